// Package fsroot maps client-supplied filenames onto paths under the served
// directory tree.
package fsroot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidName indicates a name that does not designate a file below the root.
	ErrInvalidName = errors.New("invalid filename")
	// ErrOutsideRoot indicates a name whose cleaned path escapes the root.
	ErrOutsideRoot = errors.New("path escapes file root")
)

const traversal = ".."

// Sanitize removes every occurrence of "..". This is a textual strip, not a
// path-segment check: "a..b" becomes "ab".
func Sanitize(name string) string {
	return strings.ReplaceAll(name, traversal, "")
}

// Resolve returns the on-disk path for name under root and makes sure its
// parent directory exists. A failure to create the parent is logged and
// otherwise ignored; opening the returned path will then fail.
//
// The stripped name is joined to root with a single separator, cleaned, and
// must remain a strict descendant of the cleaned root.
func Resolve(root, name string, logger *slog.Logger) (string, error) {
	safe := Sanitize(name)
	if strings.TrimSpace(safe) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	cleanRoot := filepath.Clean(root)
	full := filepath.Clean(cleanRoot + string(filepath.Separator) + filepath.FromSlash(safe))

	rel, err := filepath.Rel(cleanRoot, full)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}
	if rel == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if rel == traversal || strings.HasPrefix(rel, traversal+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, name)
	}

	parent := filepath.Dir(full)
	if _, err := os.Stat(parent); err != nil {
		if err := os.MkdirAll(parent, 0755); err != nil {
			if logger != nil {
				logger.Error("failed to create directory", "dir", parent, "error", err)
			}
		} else if logger != nil {
			logger.Info("created directory", "dir", parent)
		}
	}

	return full, nil
}

// EnsureRoot creates root if it is missing.
func EnsureRoot(root string) (created bool, err error) {
	info, err := os.Stat(root)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("file root %s is not a directory", root)
		}
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat file root %s: %w", root, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return false, fmt.Errorf("create file root %s: %w", root, err)
	}
	return true, nil
}
