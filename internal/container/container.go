// Package container reads and writes the supported archive containers.
//
// Each format has a Writer that appends entries to an output stream and a
// Reader that exposes the entries of an archive held in an io.ReaderAt.
// Writers never close the stream they write to.
package container

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/crate/internal/cratetype"
)

// Header describes an entry to add.
type Header struct {
	Path    string
	ModTime time.Time
	Mode    fs.FileMode
	IsDir   bool

	// Size is the expected content size, or -1 when unknown.
	Size int64

	Method     cratetype.Method
	Level      cratetype.Level
	Dictionary uint32
}

// Writer appends entries to an archive.
type Writer interface {
	// Add encodes the content of r as a new entry.
	Add(ctx context.Context, h Header, r io.Reader) (cratetype.Entry, error)

	// Copy transfers entry index of src without re-encoding it, storing it
	// under path. src must be a Reader of the same format.
	Copy(ctx context.Context, src Reader, index int, path string) (cratetype.Entry, error)

	// Close writes any trailing metadata. It does not close the
	// underlying stream.
	Close() error
}

// Reader exposes the entries of an archive.
type Reader interface {
	Format() cratetype.Format

	// Entries returns the entries in archive order. The slice must not be
	// modified.
	Entries() []cratetype.Entry

	// Open returns the decoded content of entry i. Reading to EOF verifies
	// the recorded size and checksums.
	Open(i int) (io.ReadCloser, error)

	// HeaderEncrypted reports whether entry metadata was encrypted.
	HeaderEncrypted() bool

	Close() error
}

// WriterOptions configure a Writer.
type WriterOptions struct {
	// Password enables content encryption of new entries when non-empty.
	Password string

	// EncryptHeaders seals the entry table with Password.
	EncryptHeaders bool
}

// ReaderOptions configure a Reader.
type ReaderOptions struct {
	// Password decrypts entries and sealed headers.
	Password string
}

// NewWriter returns a writer for format f that writes to w.
func NewWriter(f cratetype.Format, w io.Writer, opts WriterOptions) (Writer, error) {
	switch f {
	case cratetype.FormatCrate:
		return newCrateWriter(w, opts)
	case cratetype.FormatZip:
		if opts.EncryptHeaders {
			return nil, fmt.Errorf("%w: zip cannot encrypt headers", cratetype.ErrUnsupportedCombination)
		}
		return newZipWriter(w, opts), nil
	case cratetype.FormatTar:
		if opts.Password != "" {
			return nil, fmt.Errorf("%w: tar cannot encrypt", cratetype.ErrUnsupportedCombination)
		}
		return newTarWriter(w), nil
	case cratetype.FormatGzip:
		if opts.Password != "" {
			return nil, fmt.Errorf("%w: gzip cannot encrypt", cratetype.ErrUnsupportedCombination)
		}
		return newGzipWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %d", cratetype.ErrUnsupportedCombination, f)
	}
}

// NewReader detects the format of the archive in r and returns a reader
// for it. Parse failures match cratetype.ErrArchiveRead; unrecognized data
// also matches cratetype.ErrNotAnArchive.
func NewReader(r io.ReaderAt, size int64, opts ReaderOptions) (Reader, error) {
	f, err := Detect(r, size)
	if err != nil {
		return nil, err
	}
	switch f {
	case cratetype.FormatCrate:
		return openCrate(r, size, opts)
	case cratetype.FormatZip:
		return openZip(r, size, opts)
	case cratetype.FormatTar:
		return openTar(r, size)
	default:
		return openGzip(r, size)
	}
}

func checkIndex(entries []cratetype.Entry, i int) error {
	if i < 0 || i >= len(entries) {
		return fmt.Errorf("%w: entry index %d out of range", cratetype.ErrInvalidInput, i)
	}
	return nil
}
