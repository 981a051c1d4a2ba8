// Package atomicfile publishes files through a temp file and a rename so
// that a partially written file is never visible at its final path.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const tempPattern = ".crate-*"

// Perm is the mode given to published files.
const Perm os.FileMode = 0o644

// ErrNoTarget is returned by Commit on a spool file.
var ErrNoTarget = errors.New("atomicfile: spool has no target")

// File is a temp file that is renamed onto its target on Commit and removed
// on Abort. Exactly one of Commit or Abort takes effect.
type File struct {
	*os.File
	target string
	done   bool
}

// Create opens a temp file in the directory of target.
// Parent directories are created as needed.
func Create(target string) (*File, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &File{File: tmp, target: target}, nil
}

// Spool opens a temp file in the system temp directory. A spool is never
// published; callers read it back and Abort it.
func Spool() (*File, error) {
	tmp, err := os.CreateTemp("", tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	return &File{File: tmp}, nil
}

// Target returns the final path of the file.
func (f *File) Target() string {
	return f.target
}

// Commit closes the temp file and renames it onto the target.
func (f *File) Commit() error {
	if f.done {
		return nil
	}
	if f.target == "" {
		return ErrNoTarget
	}
	f.done = true
	tmpPath := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, Perm); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.target); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", f.target, err)
	}
	return nil
}

// Abort closes and removes the temp file. It is a no-op after Commit.
func (f *File) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.Close()           //nolint:errcheck // best-effort cleanup
	os.Remove(f.Name()) //nolint:errcheck // best-effort cleanup
}
