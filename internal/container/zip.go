package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/ioutil"
)

// Zip method identifiers.
const (
	zipStore   uint16 = 0
	zipDeflate uint16 = 8
	zipZstd           = zstd.ZipMethodWinZip
	zipAES     uint16 = 99
)

const (
	zipFlagEncrypted uint16 = 0x1
	zipFlagUTF8      uint16 = 0x800
)

func zipMethod(m cratetype.Method) (uint16, bool) {
	switch m {
	case cratetype.MethodCopy:
		return zipStore, true
	case cratetype.MethodDeflate:
		return zipDeflate, true
	case cratetype.MethodZstd:
		return zipZstd, true
	default:
		return 0, false
	}
}

func methodFromZip(m uint16) cratetype.Method {
	switch m {
	case zipStore:
		return cratetype.MethodCopy
	case zipDeflate:
		return cratetype.MethodDeflate
	case zipZstd:
		return cratetype.MethodZstd
	default:
		return cratetype.MethodDefault
	}
}

type zipWriter struct {
	zw      *zip.Writer
	opts    WriterOptions
	scratch *os.File
	buf     []byte
	count   int
}

func newZipWriter(w io.Writer, opts WriterOptions) *zipWriter {
	return &zipWriter{
		zw:   zip.NewWriter(w),
		opts: opts,
		buf:  make([]byte, copyBufSize),
	}
}

// resetScratch returns an empty scratch file. Zip stores sizes and CRC
// ahead of the payload, so each entry is encoded here first.
func (w *zipWriter) resetScratch() (*os.File, error) {
	if w.scratch == nil {
		f, err := os.CreateTemp("", ".crate-zip-*")
		if err != nil {
			return nil, fmt.Errorf("create scratch file: %w", err)
		}
		w.scratch = f
		return f, nil
	}
	if err := w.scratch.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := w.scratch.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return w.scratch, nil
}

func (w *zipWriter) Add(ctx context.Context, h Header, r io.Reader) (cratetype.Entry, error) {
	entry := cratetype.Entry{
		Index:   w.count,
		Path:    h.Path,
		ModTime: h.ModTime,
		Mode:    h.Mode,
		IsDir:   h.IsDir,
	}

	fh := &zip.FileHeader{
		Name:          h.Path,
		Flags:         zipFlagUTF8,
		ReaderVersion: 20,
		Extra:         extTimeExtra(h.ModTime),
	}
	fh.ModifiedDate, fh.ModifiedTime = msdosTime(h.ModTime)
	fh.SetMode(h.Mode)

	if h.IsDir {
		fh.Name += "/"
		fh.SetMode(h.Mode | os.ModeDir)
		if _, err := w.zw.CreateRaw(fh); err != nil {
			return cratetype.Entry{}, fmt.Errorf("write directory %s: %w", h.Path, err)
		}
		w.count++
		return entry, nil
	}

	method, ok := zipMethod(h.Method)
	if !ok {
		return cratetype.Entry{}, fmt.Errorf("%w: zip cannot store %s", cratetype.ErrUnsupportedCombination, h.Method)
	}
	scratch, err := w.resetScratch()
	if err != nil {
		return cratetype.Entry{}, err
	}
	enc, err := encode(ctx, scratch, r, h, w.opts.Password, w.buf)
	if err != nil {
		return cratetype.Entry{}, err
	}

	fh.Method = method
	fh.CRC32 = enc.crc
	fh.CompressedSize64 = enc.packed
	fh.UncompressedSize64 = enc.size
	if w.opts.Password != "" {
		// AE-2 carries no CRC; the auth code protects the content.
		fh.Method = zipAES
		fh.Flags |= zipFlagEncrypted
		fh.CRC32 = 0
		fh.ReaderVersion = 51
		fh.Extra = append(fh.Extra, aesExtra(method)...)
		entry.Encrypted = true
	}

	out, err := w.zw.CreateRaw(fh)
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("write header %s: %w", h.Path, err)
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return cratetype.Entry{}, err
	}
	if _, err := ioutil.CopyWithContext(ctx, out, scratch, w.buf); err != nil {
		return cratetype.Entry{}, fmt.Errorf("write payload %s: %w", h.Path, err)
	}

	entry.Size = enc.size
	entry.PackedSize = enc.packed
	entry.CRC32 = fh.CRC32
	entry.Method = h.Method
	w.count++
	return entry, nil
}

func (w *zipWriter) Copy(ctx context.Context, src Reader, i int, path string) (cratetype.Entry, error) {
	zr, ok := src.(*zipReader)
	if !ok {
		return cratetype.Entry{}, fmt.Errorf("%w: cannot copy %s entry into zip", cratetype.ErrUnsupportedCombination, src.Format())
	}
	if err := checkIndex(zr.entries, i); err != nil {
		return cratetype.Entry{}, err
	}
	f := zr.files[i]
	entry := zr.entries[i]
	entry.Index = w.count
	entry.Path = path

	fh := f.FileHeader
	fh.Name = path
	if entry.IsDir {
		fh.Name += "/"
	}
	fh.Extra = stripZip64Extra(fh.Extra)
	out, err := w.zw.CreateRaw(&fh)
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("write header %s: %w", path, err)
	}
	if !entry.IsDir {
		raw, err := f.OpenRaw()
		if err != nil {
			return cratetype.Entry{}, fmt.Errorf("%w: open %s: %w", cratetype.ErrArchiveRead, f.Name, err)
		}
		if _, err := ioutil.CopyWithContext(ctx, out, raw, w.buf); err != nil {
			return cratetype.Entry{}, fmt.Errorf("copy %s: %w", path, err)
		}
	}
	w.count++
	return entry, nil
}

func (w *zipWriter) Close() error {
	err := w.zw.Close()
	if w.scratch != nil {
		name := w.scratch.Name()
		w.scratch.Close() //nolint:errcheck // scratch is discarded
		os.Remove(name)   //nolint:errcheck // best-effort cleanup
		w.scratch = nil
	}
	return err
}

type zipReader struct {
	zr       *zip.Reader
	files    []*zip.File
	entries  []cratetype.Entry
	password string
}

func openZip(r io.ReaderAt, size int64, opts ReaderOptions) (*zipReader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, err)
	}
	z := &zipReader{zr: zr, password: opts.Password}
	for _, f := range zr.File {
		isDir := strings.HasSuffix(f.Name, "/")
		e := cratetype.Entry{
			Index:      len(z.entries),
			Path:       strings.TrimSuffix(f.Name, "/"),
			Size:       f.UncompressedSize64,
			PackedSize: f.CompressedSize64,
			ModTime:    f.Modified,
			Mode:       f.Mode().Perm(),
			IsDir:      isDir,
			CRC32:      f.CRC32,
			Method:     methodFromZip(f.Method),
			Encrypted:  f.Flags&zipFlagEncrypted != 0,
		}
		if f.Method == zipAES {
			if actual, ok := parseAESExtra(f.Extra); ok {
				e.Method = methodFromZip(actual)
			}
		}
		z.files = append(z.files, f)
		z.entries = append(z.entries, e)
	}
	if err := checkFirstEncrypted(z, opts.Password); err != nil {
		return nil, err
	}
	return z, nil
}

func (z *zipReader) Format() cratetype.Format   { return cratetype.FormatZip }
func (z *zipReader) Entries() []cratetype.Entry { return z.entries }
func (z *zipReader) HeaderEncrypted() bool      { return false }
func (z *zipReader) Close() error               { return nil }

func (z *zipReader) raw(i int) (io.Reader, error) {
	if err := checkIndex(z.entries, i); err != nil {
		return nil, err
	}
	if z.entries[i].Encrypted && z.files[i].Method != zipAES {
		return nil, fmt.Errorf("%w: legacy zip encryption", cratetype.ErrUnsupportedCombination)
	}
	raw, err := z.files[i].OpenRaw()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", cratetype.ErrArchiveRead, z.files[i].Name, err)
	}
	return raw, nil
}

func (z *zipReader) Open(i int) (io.ReadCloser, error) {
	raw, err := z.raw(i)
	if err != nil {
		return nil, err
	}
	e := &z.entries[i]
	if e.IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return decode(raw, e, z.password)
}
