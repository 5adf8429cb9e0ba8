package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting returns an error if dir already holds a session file.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("session file already exists: %s\n\nUse 'redwood init --force' to overwrite it", path)
	}
	return nil
}
