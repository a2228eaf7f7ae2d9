//go:build windows

package prefs

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// DefaultPath returns the preference file in the Documents known folder,
// which follows folder redirection.
func DefaultPath() (string, error) {
	docs, err := windows.KnownFolderPath(windows.FOLDERID_Documents, 0)
	if err != nil {
		return "", fmt.Errorf("prefs: documents folder: %w", err)
	}
	return filepath.Join(docs, FileName), nil
}
