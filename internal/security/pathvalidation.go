// Package security validates user supplied names before they are joined
// onto dataset and output roots.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateSequenceName rejects names that are not a single path element.
// Sequence names come from flags and list files and are joined onto the
// dataset root.
func ValidateSequenceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty sequence name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid sequence name %q", name)
	case strings.ContainsAny(name, `/\`) || filepath.IsAbs(name):
		return fmt.Errorf("sequence name %q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("sequence name %q contains a NUL byte", name)
	}
	return nil
}

// JoinWithin joins elem onto root and rejects results that escape root.
// The check is lexical; it does not resolve symlinks.
func JoinWithin(root string, elem ...string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(append([]string{cleanRoot}, elem...)...)

	relPath, err := filepath.Rel(cleanRoot, joined)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", root, err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("path traversal detected: %s attempts to escape %s", filepath.Join(elem...), root)
	}
	return joined, nil
}
