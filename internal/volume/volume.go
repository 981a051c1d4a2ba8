// Package volume splits an archive into numbered parts and reassembles
// a set of parts for reading.
package volume

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"sort"
	"strings"

	"github.com/meigma/crate/internal/atomicfile"
	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/sizing"
)

// MinSize is the smallest accepted volume size in bytes.
const MinSize = 64

// firstSuffix is the suffix of the first part.
const firstSuffix = ".001"

// Part is one slice of a split archive.
type Part struct {
	// Number is the 1-based part number.
	Number int

	// Offset is the position of the part within the whole archive.
	Offset int64

	// Size is the part length in bytes.
	Size int64

	io.Reader
}

// PartName returns the file name of part n of base, e.g. "out.crate.003".
func PartName(base string, n int) string {
	return fmt.Sprintf("%s.%03d", base, n)
}

// Count returns the number of parts a total byte count splits into.
func Count(total, size int64) int {
	if total <= 0 {
		return 1
	}
	return int(sizing.CeilDiv(uint64(total), uint64(size))) //nolint:gosec // both positive
}

// Split lazily yields the parts of r. Every part but the last is exactly
// size bytes long.
func Split(r io.ReaderAt, total, size int64) iter.Seq2[Part, error] {
	return func(yield func(Part, error) bool) {
		if size < MinSize {
			yield(Part{}, fmt.Errorf("%w: volume size %d below minimum %d", cratetype.ErrUnsupportedCombination, size, MinSize))
			return
		}
		n := Count(total, size)
		for i := range n {
			off := int64(i) * size
			length := min(size, total-off)
			p := Part{
				Number: i + 1,
				Offset: off,
				Size:   length,
				Reader: io.NewSectionReader(r, off, length),
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// WriteParts publishes every part as base.NNN. Parts are written to temp
// files and renamed only after all of them were written. Parts left over
// from an earlier, longer set are removed. It returns the part paths.
func WriteParts(base string, parts iter.Seq2[Part, error]) ([]string, error) {
	var pending []*atomicfile.File
	abort := func() {
		for _, f := range pending {
			f.Abort()
		}
	}
	for p, err := range parts {
		if err != nil {
			abort()
			return nil, err
		}
		f, err := atomicfile.Create(PartName(base, p.Number))
		if err != nil {
			abort()
			return nil, err
		}
		pending = append(pending, f)
		if _, err := io.Copy(f, p.Reader); err != nil {
			abort()
			return nil, fmt.Errorf("write part %d: %w", p.Number, err)
		}
	}

	paths := make([]string, 0, len(pending))
	for _, f := range pending {
		if err := f.Commit(); err != nil {
			abort()
			return nil, err
		}
		paths = append(paths, f.Target())
	}
	if err := RemoveFrom(base, len(paths)+1); err != nil {
		return paths, err
	}
	return paths, nil
}

// RemoveFrom deletes base.NNN for every consecutive part number starting
// at first.
func RemoveFrom(base string, first int) error {
	for n := first; ; n++ {
		err := os.Remove(PartName(base, n))
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Base strips a part suffix from p, so that "a.crate.001" and "a.crate"
// name the same set.
func Base(p string) string {
	return strings.TrimSuffix(p, firstSuffix)
}

// Discover lists the consecutive parts of base, starting at base.001.
// It returns fs.ErrNotExist when there is no first part.
func Discover(base string) ([]string, error) {
	base = Base(base)
	var paths []string
	for n := 1; ; n++ {
		p := PartName(base, n)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", cratetype.ErrInvalidInput, p)
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", PartName(base, 1), fs.ErrNotExist)
	}
	return paths, nil
}

// Reader presents a set of part files as one io.ReaderAt.
type Reader struct {
	files   []*os.File
	offsets []int64
	size    int64
}

// Open opens the given part files in order.
func Open(paths []string) (*Reader, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no volume paths", cratetype.ErrInvalidInput)
	}
	r := &Reader{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			r.Close() //nolint:errcheck // already failing
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close() //nolint:errcheck // already failing
			r.Close() //nolint:errcheck // already failing
			return nil, err
		}
		r.files = append(r.files, f)
		r.offsets = append(r.offsets, r.size)
		r.size += info.Size()
	}
	return r, nil
}

// Size returns the combined size of all parts.
func (r *Reader) Size() int64 {
	return r.size
}

// Parts returns the number of parts.
func (r *Reader) Parts() int {
	return len(r.files)
}

// ReadAt implements io.ReaderAt across part boundaries.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("volume: negative offset %d", off)
	}
	if off >= r.size {
		return 0, io.EOF
	}
	// Last part whose start is <= off.
	i := sort.Search(len(r.offsets), func(i int) bool { return r.offsets[i] > off }) - 1
	var n int
	for n < len(p) && i < len(r.files) {
		local := off + int64(n) - r.offsets[i]
		m, err := r.files[i].ReadAt(p[n:], local)
		n += m
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if n < len(p) {
			i++
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close closes every part file.
func (r *Reader) Close() error {
	var errs []error
	for _, f := range r.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
