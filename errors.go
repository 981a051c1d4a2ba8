package crate

import (
	"errors"
	"fmt"

	"github.com/meigma/crate/internal/cratetype"
)

// Errors re-exported from cratetype.
var (
	// ErrInvalidInput is returned when caller-supplied paths or streams are
	// missing, empty, or ambiguous.
	ErrInvalidInput = cratetype.ErrInvalidInput

	// ErrUnsupportedCombination is returned when a format, method, or
	// encryption combination is not legal.
	ErrUnsupportedCombination = cratetype.ErrUnsupportedCombination

	// ErrArchiveRead is returned when an existing archive cannot be parsed.
	ErrArchiveRead = cratetype.ErrArchiveRead

	// ErrNotAnArchive is returned when data is not a recognized container.
	ErrNotAnArchive = cratetype.ErrNotAnArchive

	// ErrWrongPassword is returned when a password fails to decrypt.
	ErrWrongPassword = cratetype.ErrWrongPassword

	// ErrMissingPassword is returned when encryption is requested, or an
	// archive with encrypted headers is opened, without a password.
	ErrMissingPassword = cratetype.ErrMissingPassword

	// ErrInvalidModification is returned when a modification references an
	// entry that does not exist.
	ErrInvalidModification = cratetype.ErrInvalidModification

	// ErrTooManyFiles is returned when the input count exceeds the limit.
	ErrTooManyFiles = cratetype.ErrTooManyFiles

	// ErrSizeOverflow is returned when a size value overflows or exceeds a limit.
	ErrSizeOverflow = cratetype.ErrSizeOverflow

	// ErrHashMismatch is returned when entry content does not match its checksum.
	ErrHashMismatch = cratetype.ErrHashMismatch

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = cratetype.ErrDecompression

	// ErrAuthentication is returned when encrypted content fails authentication.
	ErrAuthentication = cratetype.ErrAuthentication

	// ErrSymlink is returned when a symlink is encountered where not allowed.
	ErrSymlink = cratetype.ErrSymlink
)

// ArchiveReadError reports an existing archive that could not be loaded.
// It matches ErrArchiveRead and unwraps to the cause, so errors.Is also
// matches ErrNotAnArchive, ErrWrongPassword, and so on.
type ArchiveReadError struct {
	Path string
	Err  error
}

func (e *ArchiveReadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("crate: read archive: %v", e.Err)
	}
	return fmt.Sprintf("crate: read archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveReadError) Unwrap() error { return e.Err }

// Is reports whether target is ErrArchiveRead.
func (e *ArchiveReadError) Is(target error) bool {
	return target == ErrArchiveRead
}

func readError(path string, err error) error {
	var are *ArchiveReadError
	if errors.As(err, &are) {
		return err
	}
	return &ArchiveReadError{Path: path, Err: err}
}

// OpError records the operation, and the entry when known, that failed
// after configuration was validated.
type OpError struct {
	Op   string
	Mode Mode

	// Index is the planned entry index, or -1 when the failure is not tied
	// to an entry.
	Index int
	Path  string
	Err   error
}

func (e *OpError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("crate: %s (%s): %v", e.Op, e.Mode, e.Err)
	}
	return fmt.Sprintf("crate: %s (%s): entry %d %q: %v", e.Op, e.Mode, e.Index, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
