package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/drey/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// StateDir holds local queue data for the file, sqlite and pebble stores.
const StateDir = ".drey"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes drey.yml for projectID into dir and creates the local
// state directory. If force is true, an existing drey.yml is replaced.
func Initialize(dir, projectID string, force bool) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles(dir, projectID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, StateDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", StateDir, err)
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// handleForce removes an existing drey.yml. Queued events are left alone.
func handleForce(dir string) error {
	path := filepath.Join(dir, config.DefaultFile)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", config.DefaultFile, err)
		}
	}
	return nil
}

// getTemplateFiles renders all template files
func getTemplateFiles(dir, projectID string) ([]FileInfo, error) {
	raw, err := templatesFS.ReadFile("templates/drey.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read drey.yml template: %w", err)
	}

	tmpl, err := template.New(config.DefaultFile).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse drey.yml template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ ProjectID string }{projectID}); err != nil {
		return nil, fmt.Errorf("failed to render drey.yml: %w", err)
	}

	return []FileInfo{{
		Path:        filepath.Join(dir, config.DefaultFile),
		Content:     buf.Bytes(),
		Permissions: 0644,
	}}, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written drey.yml through the real loader
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, config.DefaultFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", config.DefaultFile, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(w io.Writer) {
	fmt.Fprintln(w, "\n✅ Successfully initialized drey project!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", config.DefaultFile)
	fmt.Fprintf(w, "  ✓ %s/\n", StateDir)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Add '%s/' to your .gitignore file\n", StateDir)
	fmt.Fprintf(w, "  2. Export %s instead of writing the key into %s\n", config.EnvWriteKey, config.DefaultFile)
	fmt.Fprintln(w, "  3. Run 'drey queue <collection> <json>' and 'drey upload'")
}
