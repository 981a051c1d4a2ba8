package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/pathutil"
	"github.com/meigma/crate/internal/platform"
)

// FileSink writes entries below a directory with atomic writes.
//
// Files are written to a temporary file in the same directory,
// then renamed to the final path on Commit. This ensures that
// partially written files are never visible at the final path.
// All access goes through an os.Root, so entries cannot escape the
// destination even through symlinked parents.
type FileSink struct {
	root          *os.Root
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode preserves file permission modes from the archive.
// By default, modes are not preserved (files use umask defaults).
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes preserves file modification times from the archive.
// By default, times are not preserved (files use current time).
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink creates a FileSink that writes below root. The caller keeps
// ownership of root.
func NewFileSink(root *os.Root, opts ...FileSinkOption) *FileSink {
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check rejects entry paths that are absolute or climb out of the
// destination.
func Check(e *cratetype.Entry) error {
	if !pathutil.Safe(e.Path) {
		return fmt.Errorf("%w: unsafe entry path %q", cratetype.ErrInvalidInput, e.Path)
	}
	return nil
}

// ShouldProcess returns false if the file already exists and overwrite is
// disabled. Unsafe paths are processed so that Writer reports them.
func (s *FileSink) ShouldProcess(e *cratetype.Entry) bool {
	if s.overwrite || e.IsDir || Check(e) != nil {
		return true
	}
	_, err := s.root.Lstat(e.Path)
	return errors.Is(err, fs.ErrNotExist)
}

// Dir creates a directory entry and its parents.
func (s *FileSink) Dir(e *cratetype.Entry) error {
	if err := Check(e); err != nil {
		return err
	}
	return s.root.MkdirAll(e.Path, 0o750)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(e *cratetype.Entry) (Committer, error) {
	if err := Check(e); err != nil {
		return nil, err
	}
	dir := path.Dir(e.Path)
	if dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if info, err := s.root.Lstat(e.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", cratetype.ErrInvalidInput, e.Path)
	}

	tempName := path.Join(dir, ".crate-"+uuid.NewString())
	f, err := platform.CreateNoFollow(s.root, tempName, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		entry:    e,
		tempName: tempName,
		tempFile: f,
		sink:     s,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	entry    *cratetype.Entry
	tempName string
	tempFile *os.File
	sink     *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	root := c.sink.root
	if err := c.tempFile.Close(); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}

	mode := fs.FileMode(0o644)
	if c.sink.preserveMode && c.entry.Mode.Perm() != 0 {
		mode = c.entry.Mode.Perm()
	}
	if err := root.Chmod(c.tempName, mode); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod: %w", err)
	}

	if c.sink.preserveTimes && !c.entry.ModTime.IsZero() {
		if err := root.Chtimes(c.tempName, c.entry.ModTime, c.entry.ModTime); err != nil {
			_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chtimes: %w", err)
		}
	}

	if err := root.Rename(c.tempName, c.entry.Path); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.entry.Path, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.sink.root.Remove(c.tempName)
}
