package container

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/gzip"

	"github.com/meigma/crate/internal/codec"
	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/ioutil"
)

// defaultGzipName names the entry of a gzip stream whose header carries
// no file name.
const defaultGzipName = "data"

type gzipWriter struct {
	w     io.Writer
	buf   []byte
	added bool
}

func newGzipWriter(w io.Writer) *gzipWriter {
	return &gzipWriter{w: w, buf: make([]byte, copyBufSize)}
}

func (w *gzipWriter) Add(ctx context.Context, h Header, r io.Reader) (cratetype.Entry, error) {
	if w.added {
		return cratetype.Entry{}, fmt.Errorf("%w: gzip holds a single entry", cratetype.ErrUnsupportedCombination)
	}
	if h.IsDir {
		return cratetype.Entry{}, fmt.Errorf("%w: gzip cannot store directory %s", cratetype.ErrUnsupportedCombination, h.Path)
	}
	if h.Method != cratetype.MethodDeflate && h.Method != cratetype.MethodDefault {
		return cratetype.Entry{}, fmt.Errorf("%w: gzip cannot store %s", cratetype.ErrUnsupportedCombination, h.Method)
	}
	w.added = true

	out := &ioutil.CountingWriter{W: w.w}
	zw, err := gzip.NewWriterLevel(out, codec.FlateLevel(h.Level))
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("gzip encoder: %w", err)
	}
	zw.Name = path.Base(h.Path)
	zw.ModTime = h.ModTime

	n, err := ioutil.CopyWithContext(ctx, zw, r, w.buf)
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("write %s: %w", h.Path, err)
	}
	if h.Size >= 0 && n != uint64(h.Size) {
		return cratetype.Entry{}, fmt.Errorf("%w: %s changed size while reading (%d != %d)", cratetype.ErrInvalidInput, h.Path, n, h.Size)
	}
	if err := zw.Close(); err != nil {
		return cratetype.Entry{}, fmt.Errorf("flush gzip: %w", err)
	}
	return cratetype.Entry{
		Path:       zw.Name,
		Size:       n,
		PackedSize: out.N,
		ModTime:    h.ModTime,
		Mode:       h.Mode,
		Method:     cratetype.MethodDeflate,
	}, nil
}

func (w *gzipWriter) Copy(context.Context, Reader, int, string) (cratetype.Entry, error) {
	return cratetype.Entry{}, fmt.Errorf("%w: gzip cannot be appended to or modified", cratetype.ErrUnsupportedCombination)
}

func (w *gzipWriter) Close() error {
	if w.added {
		return nil
	}
	// An empty gzip stream still carries a valid member.
	zw := gzip.NewWriter(w.w)
	return zw.Close()
}

type gzipReader struct {
	r       io.ReaderAt
	size    int64
	entries []cratetype.Entry
}

func openGzip(r io.ReaderAt, size int64) (*gzipReader, error) {
	zr, err := gzip.NewReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, err)
	}
	defer zr.Close()

	if size < 18 {
		return nil, fmt.Errorf("%w: truncated gzip stream", cratetype.ErrArchiveRead)
	}
	var trailer [8]byte
	if _, err := r.ReadAt(trailer[:], size-8); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read gzip trailer: %w", cratetype.ErrArchiveRead, err)
	}

	name := path.Base(zr.Name)
	if zr.Name == "" {
		name = defaultGzipName
	}
	return &gzipReader{
		r:    r,
		size: size,
		entries: []cratetype.Entry{{
			Path: name,
			// ISIZE is the size modulo 2^32.
			Size:       uint64(binary.LittleEndian.Uint32(trailer[4:8])),
			PackedSize: uint64(size), //nolint:gosec // size is positive
			ModTime:    zr.ModTime,
			Mode:       0o644,
			CRC32:      binary.LittleEndian.Uint32(trailer[0:4]),
			Method:     cratetype.MethodDeflate,
		}},
	}, nil
}

func (g *gzipReader) Format() cratetype.Format   { return cratetype.FormatGzip }
func (g *gzipReader) Entries() []cratetype.Entry { return g.entries }
func (g *gzipReader) HeaderEncrypted() bool      { return false }
func (g *gzipReader) Close() error               { return nil }

func (g *gzipReader) Open(i int) (io.ReadCloser, error) {
	if err := checkIndex(g.entries, i); err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(io.NewSectionReader(g.r, 0, g.size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, err)
	}
	// The gzip reader checks CRC and ISIZE itself.
	return &gzipEntryReader{zr: zr}, nil
}

type gzipEntryReader struct {
	zr *gzip.Reader
}

func (g *gzipEntryReader) Read(p []byte) (int, error) {
	n, err := g.zr.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, gzip.ErrChecksum) {
			return n, fmt.Errorf("%w: %w", cratetype.ErrHashMismatch, err)
		}
		return n, fmt.Errorf("%w: %w", cratetype.ErrDecompression, err)
	}
	return n, err
}

func (g *gzipEntryReader) Close() error {
	return g.zr.Close()
}
