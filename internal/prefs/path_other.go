//go:build !windows

package prefs

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPath returns ~/Documents/.p4syncpref.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("prefs: home directory: %w", err)
	}
	return filepath.Join(home, "Documents", FileName), nil
}
