package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/redwood/internal/printer"
	"github.com/dyluth/redwood/internal/scaffold"
)

var (
	initDir      string
	initSubjects int
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter session file",
	Long: `Writes a session.yml describing a small session: numbered subjects, a
paused first period and two more periods with parameters.

The instance and session written into the file come from --instance and
--session.

Examples:
  # Four subjects in instance "lab"
  redwood init -i lab --subjects 4

  # Replace an existing file
  redwood init -i lab --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write session.yml into")
	initCmd.Flags().IntVar(&initSubjects, "subjects", 2, "Number of subjects")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing session file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	opts := scaffold.Options{Instance: instanceName, Session: sessionID, Subjects: initSubjects}
	path, err := scaffold.Initialize(initDir, opts, initForce)
	if err != nil {
		return printer.Error(
			"init failed",
			err.Error(),
			[]string{"Pick another --dir, or pass --force to overwrite"},
		)
	}

	printer.Success("Wrote %s\n", path)
	printer.Info("\nNext steps:\n")
	printer.Println("  1. Edit the periods and their params")
	printer.Println(fmt.Sprintf("  2. Run 'redwood start --config %s'", path))
	printer.Println("  3. Start one redwood-subject process per subject")
	return nil
}
