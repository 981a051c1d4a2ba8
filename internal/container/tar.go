package container

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/ioutil"
)

type tarWriter struct {
	tw    *tar.Writer
	buf   []byte
	count int
}

func newTarWriter(w io.Writer) *tarWriter {
	return &tarWriter{tw: tar.NewWriter(w), buf: make([]byte, copyBufSize)}
}

func (w *tarWriter) Add(ctx context.Context, h Header, r io.Reader) (cratetype.Entry, error) {
	if h.Method != cratetype.MethodCopy && h.Method != cratetype.MethodDefault {
		return cratetype.Entry{}, fmt.Errorf("%w: tar cannot store %s", cratetype.ErrUnsupportedCombination, h.Method)
	}
	entry := cratetype.Entry{
		Index:   w.count,
		Path:    h.Path,
		ModTime: h.ModTime,
		Mode:    h.Mode.Perm(),
		IsDir:   h.IsDir,
		Method:  cratetype.MethodCopy,
	}
	hdr := &tar.Header{
		Name:    h.Path,
		Mode:    int64(h.Mode.Perm()),
		ModTime: h.ModTime,
		Format:  tar.FormatPAX,
	}
	if h.IsDir {
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		if err := w.tw.WriteHeader(hdr); err != nil {
			return cratetype.Entry{}, fmt.Errorf("write header %s: %w", h.Path, err)
		}
		w.count++
		return entry, nil
	}

	// Tar records the size ahead of the content.
	size := h.Size
	if size < 0 {
		spool, n, err := spoolReader(ctx, r, w.buf)
		if err != nil {
			return cratetype.Entry{}, err
		}
		defer spool.Close() //nolint:errcheck // spool removes itself
		r, size = spool, n
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = size
	if err := w.tw.WriteHeader(hdr); err != nil {
		return cratetype.Entry{}, fmt.Errorf("write header %s: %w", h.Path, err)
	}
	crc := crc32.NewIEEE()
	n, err := ioutil.CopyWithContext(ctx, io.MultiWriter(w.tw, crc), io.LimitReader(r, size), w.buf)
	if err != nil {
		return cratetype.Entry{}, fmt.Errorf("write %s: %w", h.Path, err)
	}
	if n != uint64(size) { //nolint:gosec // size is non-negative
		return cratetype.Entry{}, fmt.Errorf("%w: %s changed size while reading (%d != %d)", cratetype.ErrInvalidInput, h.Path, n, size)
	}
	entry.Size = n
	entry.PackedSize = n
	entry.CRC32 = crc.Sum32()
	w.count++
	return entry, nil
}

func (w *tarWriter) Copy(ctx context.Context, src Reader, i int, name string) (cratetype.Entry, error) {
	tr, ok := src.(*tarReader)
	if !ok {
		return cratetype.Entry{}, fmt.Errorf("%w: cannot copy %s entry into tar", cratetype.ErrUnsupportedCombination, src.Format())
	}
	if err := checkIndex(tr.entries, i); err != nil {
		return cratetype.Entry{}, err
	}
	e := tr.entries[i]
	if e.Special {
		return w.copyMember(ctx, tr, i, name)
	}
	h := Header{
		Path:    name,
		ModTime: e.ModTime,
		Mode:    e.Mode,
		IsDir:   e.IsDir,
		Size:    int64(e.Size), //nolint:gosec // bounded by the archive size
		Method:  cratetype.MethodCopy,
	}
	return w.Add(ctx, h, tr.section(i))
}

// copyMember rewrites a link or special member from its original header.
func (w *tarWriter) copyMember(ctx context.Context, tr *tarReader, i int, name string) (cratetype.Entry, error) {
	orig := tr.headers[i]
	hdr := &tar.Header{
		Typeflag: orig.Typeflag,
		Name:     name,
		Linkname: orig.Linkname,
		Size:     orig.Size,
		Mode:     orig.Mode,
		Uid:      orig.Uid,
		Gid:      orig.Gid,
		Uname:    orig.Uname,
		Gname:    orig.Gname,
		ModTime:  orig.ModTime,
		Devmajor: orig.Devmajor,
		Devminor: orig.Devminor,
		Format:   tar.FormatPAX,
	}
	if orig.Typeflag == tar.TypeXGlobalHeader {
		hdr.PAXRecords = orig.PAXRecords
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return cratetype.Entry{}, fmt.Errorf("write header %s: %w", name, err)
	}
	if orig.Size > 0 {
		if _, err := ioutil.CopyWithContext(ctx, w.tw, tr.section(i), w.buf); err != nil {
			return cratetype.Entry{}, fmt.Errorf("write %s: %w", name, err)
		}
	}
	e := tr.entries[i]
	e.Index = w.count
	e.Path = name
	w.count++
	return e, nil
}

func (w *tarWriter) Close() error {
	return w.tw.Close()
}

type tarReader struct {
	r       io.ReaderAt
	offsets []int64
	headers []*tar.Header
	entries []cratetype.Entry
}

func openTar(r io.ReaderAt, size int64) (*tarReader, error) {
	counter := &ioutil.CountingReader{R: io.NewSectionReader(r, 0, size)}
	tr := tar.NewReader(counter)
	t := &tarReader{r: r}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, err)
		}
		e := cratetype.Entry{
			Index:      len(t.entries),
			Path:       path.Clean(hdr.Name),
			Size:       uint64(hdr.Size), //nolint:gosec // tar rejects negative sizes
			PackedSize: uint64(hdr.Size), //nolint:gosec // tar rejects negative sizes
			ModTime:    hdr.ModTime,
			Mode:       os.FileMode(hdr.Mode).Perm(), //nolint:gosec // permission bits only
			Method:     cratetype.MethodCopy,
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeRegA: //nolint:staticcheck // old writers still emit '\x00'
		case tar.TypeDir:
			e.IsDir = true
		default:
			e.Special = true
			e.Linkname = hdr.Linkname
		}
		t.offsets = append(t.offsets, int64(counter.N)) //nolint:gosec // bounded by size
		t.headers = append(t.headers, hdr)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

func (t *tarReader) Format() cratetype.Format   { return cratetype.FormatTar }
func (t *tarReader) Entries() []cratetype.Entry { return t.entries }
func (t *tarReader) HeaderEncrypted() bool      { return false }
func (t *tarReader) Close() error               { return nil }

func (t *tarReader) section(i int) *io.SectionReader {
	return io.NewSectionReader(t.r, t.offsets[i], int64(t.entries[i].Size)) //nolint:gosec // bounded by the archive size
}

func (t *tarReader) Open(i int) (io.ReadCloser, error) {
	if err := checkIndex(t.entries, i); err != nil {
		return nil, err
	}
	if t.entries[i].IsDir {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	e := &t.entries[i]
	return io.NopCloser(ioutil.NewVerifyingReader(t.section(i), e.Size, 0, nil, cratetype.ErrHashMismatch, cratetype.ErrArchiveRead)), nil
}
