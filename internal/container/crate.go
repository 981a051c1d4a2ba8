package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/crypt"
	"github.com/meigma/crate/internal/index"
	"github.com/meigma/crate/internal/ioutil"
	"github.com/meigma/crate/internal/sizing"
)

// Crate container layout:
//
//	header  "CRATE\x00" | version(1) | flags(1)
//	data    entry payloads, back to back
//	index   FlatBuffers entry table, sealed when headers are encrypted
//	trailer index offset(8) | index size(8) | flags(8) | "CRATEEND"
//
// All integers are little-endian.
const (
	crateMagic    = "CRATE\x00"
	crateEndMagic = "CRATEEND"
	crateVersion  = 1

	crateHeaderSize  = len(crateMagic) + 2
	crateTrailerSize = 32

	flagHeaderEncrypted = 1 << 0

	// maxIndexSize bounds the index read into memory.
	maxIndexSize = 256 << 20
)

type crateWriter struct {
	w       *ioutil.CountingWriter
	data    digest.Digester
	opts    WriterOptions
	records []index.Record
	buf     []byte
	closed  bool
}

func newCrateWriter(w io.Writer, opts WriterOptions) (*crateWriter, error) {
	if opts.EncryptHeaders && opts.Password == "" {
		return nil, cratetype.ErrMissingPassword
	}
	var flags byte
	if opts.EncryptHeaders {
		flags |= flagHeaderEncrypted
	}
	cw := &ioutil.CountingWriter{W: w}
	header := append([]byte(crateMagic), crateVersion, flags)
	if _, err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &crateWriter{
		w:    cw,
		data: digest.Canonical.Digester(),
		opts: opts,
		buf:  make([]byte, copyBufSize),
	}, nil
}

// dataWriter hashes payload bytes into the data digest on their way out.
func (cw *crateWriter) dataWriter() io.Writer {
	return io.MultiWriter(cw.w, cw.data.Hash())
}

func (cw *crateWriter) offset() uint64 {
	return cw.w.N - uint64(crateHeaderSize)
}

func (cw *crateWriter) Add(ctx context.Context, h Header, r io.Reader) (cratetype.Entry, error) {
	rec := index.Record{
		Entry: cratetype.Entry{
			Index:   len(cw.records),
			Path:    h.Path,
			ModTime: h.ModTime,
			Mode:    h.Mode,
			IsDir:   h.IsDir,
		},
		Offset: cw.offset(),
	}
	if !h.IsDir {
		enc, err := encode(ctx, cw.dataWriter(), r, h, cw.opts.Password, cw.buf)
		if err != nil {
			return cratetype.Entry{}, err
		}
		rec.Size = enc.size
		rec.PackedSize = enc.packed
		rec.CRC32 = enc.crc
		rec.Hash = enc.hash
		rec.Method = h.Method
		rec.Dictionary = h.Dictionary
		rec.Encrypted = cw.opts.Password != ""
	}
	cw.records = append(cw.records, rec)
	return rec.Entry, nil
}

func (cw *crateWriter) Copy(ctx context.Context, src Reader, i int, path string) (cratetype.Entry, error) {
	cr, ok := src.(*crateReader)
	if !ok {
		return cratetype.Entry{}, fmt.Errorf("%w: cannot copy %s entry into crate", cratetype.ErrUnsupportedCombination, src.Format())
	}
	if err := checkIndex(cr.entries, i); err != nil {
		return cratetype.Entry{}, err
	}
	rec := cr.records[i]
	rec.Index = len(cw.records)
	rec.Path = path
	newOffset := cw.offset()

	raw, err := cr.raw(i)
	if err != nil {
		return cratetype.Entry{}, err
	}
	n, err := ioutil.CopyWithContext(ctx, cw.dataWriter(), raw, cw.buf)
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("copy %s: %w", path, err)
	}
	if n != rec.PackedSize {
		return cratetype.Entry{}, fmt.Errorf("%w: short payload for %s", cratetype.ErrArchiveRead, path)
	}
	rec.Offset = newOffset
	cw.records = append(cw.records, rec)
	return rec.Entry, nil
}

func (cw *crateWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	dataSize := cw.offset()
	table := index.Build(&index.Index{
		Records:    cw.records,
		DataSize:   dataSize,
		DataDigest: cw.data.Digest(),
	})

	var flags uint64
	if cw.opts.EncryptHeaders {
		sealed, err := crypt.Seal(table, cw.opts.Password)
		if err != nil {
			return fmt.Errorf("seal index: %w", err)
		}
		table = sealed
		flags |= flagHeaderEncrypted
	}

	indexOffset := cw.w.N
	if _, err := cw.w.Write(table); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	var trailer [crateTrailerSize]byte
	binary.LittleEndian.PutUint64(trailer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(trailer[8:16], uint64(len(table)))
	binary.LittleEndian.PutUint64(trailer[16:24], flags)
	copy(trailer[24:], crateEndMagic)
	if _, err := cw.w.Write(trailer[:]); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	return nil
}

type crateReader struct {
	r               io.ReaderAt
	size            int64
	password        string
	headerEncrypted bool
	dataSize        uint64
	dataDigest      digest.Digest
	records         []index.Record
	entries         []cratetype.Entry
}

func openCrate(r io.ReaderAt, size int64, opts ReaderOptions) (*crateReader, error) {
	if size < int64(crateHeaderSize+crateTrailerSize) {
		return nil, fmt.Errorf("%w: truncated crate archive", cratetype.ErrArchiveRead)
	}
	head := make([]byte, crateHeaderSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", cratetype.ErrArchiveRead, err)
	}
	if !bytes.Equal(head[:len(crateMagic)], []byte(crateMagic)) {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, cratetype.ErrNotAnArchive)
	}
	if head[len(crateMagic)] != crateVersion {
		return nil, fmt.Errorf("%w: unsupported crate version %d", cratetype.ErrArchiveRead, head[len(crateMagic)])
	}

	var trailer [crateTrailerSize]byte
	if _, err := r.ReadAt(trailer[:], size-crateTrailerSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read trailer: %w", cratetype.ErrArchiveRead, err)
	}
	if string(trailer[24:]) != crateEndMagic {
		return nil, fmt.Errorf("%w: missing end marker, archive is truncated or incomplete", cratetype.ErrArchiveRead)
	}
	indexOffset := binary.LittleEndian.Uint64(trailer[0:8])
	indexSize := binary.LittleEndian.Uint64(trailer[8:16])
	flags := binary.LittleEndian.Uint64(trailer[16:24])

	indexEnd, ok := sizing.AddUint64(indexOffset, indexSize)
	if !ok || indexOffset < uint64(crateHeaderSize) || indexEnd != uint64(size-crateTrailerSize) || indexSize > maxIndexSize {
		return nil, fmt.Errorf("%w: index location out of range", cratetype.ErrArchiveRead)
	}
	table := make([]byte, indexSize)
	if _, err := r.ReadAt(table, int64(indexOffset)); err != nil && !errors.Is(err, io.EOF) { //nolint:gosec // bounded by size
		return nil, fmt.Errorf("%w: read index: %w", cratetype.ErrArchiveRead, err)
	}

	cr := &crateReader{
		r:               r,
		size:            size,
		password:        opts.Password,
		headerEncrypted: flags&flagHeaderEncrypted != 0,
	}
	if cr.headerEncrypted {
		if opts.Password == "" {
			return nil, cratetype.ErrMissingPassword
		}
		plain, err := crypt.Open(table, opts.Password)
		if err != nil {
			return nil, err
		}
		table = plain
	}

	idx, err := index.Load(table)
	if err != nil {
		return nil, err
	}
	if idx.DataSize != indexOffset-uint64(crateHeaderSize) {
		return nil, fmt.Errorf("%w: data region size mismatch", cratetype.ErrArchiveRead)
	}
	cr.dataSize = idx.DataSize
	cr.dataDigest = idx.DataDigest
	cr.records = idx.Records
	cr.entries = make([]cratetype.Entry, len(idx.Records))
	for i := range idx.Records {
		cr.entries[i] = idx.Records[i].Entry
	}

	if err := checkFirstEncrypted(cr, opts.Password); err != nil {
		return nil, err
	}
	return cr, nil
}

func (cr *crateReader) Format() cratetype.Format   { return cratetype.FormatCrate }
func (cr *crateReader) Entries() []cratetype.Entry { return cr.entries }
func (cr *crateReader) HeaderEncrypted() bool      { return cr.headerEncrypted }
func (cr *crateReader) Close() error               { return nil }

func (cr *crateReader) section(i int) *io.SectionReader {
	rec := &cr.records[i]
	//nolint:gosec // offsets were bounds checked against the data region on load
	return io.NewSectionReader(cr.r, int64(crateHeaderSize)+int64(rec.Offset), int64(rec.PackedSize))
}

// raw returns the stored payload bytes of entry i.
func (cr *crateReader) raw(i int) (io.Reader, error) {
	if err := checkIndex(cr.entries, i); err != nil {
		return nil, err
	}
	return cr.section(i), nil
}

func (cr *crateReader) Open(i int) (io.ReadCloser, error) {
	if err := checkIndex(cr.entries, i); err != nil {
		return nil, err
	}
	e := &cr.entries[i]
	if e.IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return decode(cr.section(i), e, cr.password)
}

// VerifyData recomputes the digest of the data region.
func (cr *crateReader) VerifyData(ctx context.Context) error {
	if cr.dataDigest == "" {
		return nil
	}
	verifier := cr.dataDigest.Verifier()
	//nolint:gosec // bounded by the archive size
	sec := io.NewSectionReader(cr.r, int64(crateHeaderSize), int64(cr.dataSize))
	if _, err := ioutil.CopyWithContext(ctx, verifier, sec, nil); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: data region digest", cratetype.ErrHashMismatch)
	}
	return nil
}
