// Package security guards the paths the simulator writes to.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath stays inside safeDir once
// "." and ".." are resolved. Existing directories on the way are resolved
// through their symlinks, so a link inside safeDir pointing elsewhere is
// rejected. Neither path needs to exist yet.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	relPath, err := filepath.Rel(resolveExisting(absSafeDir), resolveExisting(absPath))
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveExisting resolves symlinks in the longest existing prefix of an
// absolute path and re-appends the rest.
func resolveExisting(absPath string) string {
	check := absPath
	for {
		if resolved, err := filepath.EvalSymlinks(check); err == nil {
			rest, _ := filepath.Rel(check, absPath)
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		check = parent
	}
}

// ValidateFileName checks that name is a plain relative file name that stays
// inside dir, such as a result file configured next to the output
// directory.
func ValidateFileName(dir, name string) error {
	if name == "" {
		return fmt.Errorf("file name must not be empty")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("file name %q must be relative to %s", name, dir)
	}
	return ValidatePathWithinDirectory(filepath.Join(dir, name), dir)
}
