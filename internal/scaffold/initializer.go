// Package scaffold writes starter session files.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/dyluth/redwood/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// DefaultFile is the session file name commands look for by default.
const DefaultFile = "session.yml"

// Options parameterises the generated session file.
type Options struct {
	Instance string
	Session  int
	Subjects int
}

// Initialize writes a session file into dir and checks it loads.
// If force is true an existing session file is overwritten.
func Initialize(dir string, opts Options, force bool) (string, error) {
	path := filepath.Join(dir, DefaultFile)

	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := render(opts)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is not a valid session file: %w", path, err)
	}

	return path, nil
}

func render(opts Options) ([]byte, error) {
	if opts.Subjects <= 0 {
		return nil, fmt.Errorf("at least one subject is required, got %d", opts.Subjects)
	}
	if opts.Session <= 0 {
		opts.Session = 1
	}

	raw, err := templatesFS.ReadFile("templates/session.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read session template: %w", err)
	}
	tmpl, err := template.New("session").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse session template: %w", err)
	}

	subjects := make([]string, opts.Subjects)
	for i := range subjects {
		subjects[i] = strconv.Itoa(i + 1)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Instance string
		Session  int
		Subjects []string
	}{opts.Instance, opts.Session, subjects})
	if err != nil {
		return nil, fmt.Errorf("failed to render session template: %w", err)
	}
	return buf.Bytes(), nil
}
