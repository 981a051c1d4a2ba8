package cratetype

import "errors"

// Sentinel errors for crate operations.
var (
	// ErrInvalidInput is returned when caller-supplied paths or streams are
	// missing, empty, or ambiguous.
	ErrInvalidInput = errors.New("crate: invalid input")

	// ErrUnsupportedCombination is returned when a format, method, or
	// encryption combination is not legal.
	ErrUnsupportedCombination = errors.New("crate: unsupported combination")

	// ErrArchiveRead is returned when an archive cannot be parsed.
	ErrArchiveRead = errors.New("crate: cannot read archive")

	// ErrNotAnArchive is returned when data is not a recognized container.
	ErrNotAnArchive = errors.New("crate: not an archive")

	// ErrWrongPassword is returned when a password fails to decrypt.
	ErrWrongPassword = errors.New("crate: wrong password")

	// ErrMissingPassword is returned when encryption is requested, or an
	// encrypted archive is read, without a password.
	ErrMissingPassword = errors.New("crate: password required")

	// ErrInvalidModification is returned when a modification references a
	// non-existent or already deleted entry.
	ErrInvalidModification = errors.New("crate: invalid modification")

	// ErrTooManyFiles is returned when the input count exceeds the configured limit.
	ErrTooManyFiles = errors.New("crate: too many files")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("crate: size overflow")

	// ErrHashMismatch is returned when entry content does not match its checksum.
	ErrHashMismatch = errors.New("crate: checksum verification failed")

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = errors.New("crate: decompression failed")

	// ErrAuthentication is returned when encrypted content fails authentication.
	ErrAuthentication = errors.New("crate: authentication failed")

	// ErrSymlink is returned when a symlink is encountered where not allowed.
	ErrSymlink = errors.New("crate: symlink")
)
