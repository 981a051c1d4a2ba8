// Package testutil provides fixtures shared by crate tests.
package testutil

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTree creates files below root. Keys are slash separated relative
// paths.
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// ReadTree returns the regular files below root keyed by slash separated
// relative path.
func ReadTree(t testing.TB, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p) //nolint:gosec // test fixture path
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

// Payload returns n deterministic bytes for seed. The data mixes runs of
// text with random bytes so that every codec has something to do.
func Payload(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // test data
	const text = "the quick brown fox jumps over the lazy dog. "
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.IntN(2) == 0 {
			out = append(out, text...)
			continue
		}
		for range 32 {
			out = append(out, byte(r.Uint32()))
		}
	}
	return out[:n]
}

// ByteSource is an in-memory io.ReaderAt with a size.
type ByteSource struct {
	data []byte
}

// NewByteSource returns a byte source backed by the provided data.
func NewByteSource(data []byte) *ByteSource {
	return &ByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *ByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *ByteSource) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *ByteSource) Bytes() []byte {
	return m.data
}

// SeekBuffer is an in-memory io.ReadWriteSeeker that can be truncated.
// It does not implement io.ReaderAt.
type SeekBuffer struct {
	data []byte
	off  int64
}

// NewSeekBuffer returns a buffer holding a copy of data, positioned at 0.
func NewSeekBuffer(data []byte) *SeekBuffer {
	return &SeekBuffer{data: append([]byte(nil), data...)}
}

func (b *SeekBuffer) Read(p []byte) (int, error) {
	if b.off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.off:])
	b.off += int64(n)
	return n, nil
}

func (b *SeekBuffer) Write(p []byte) (int, error) {
	end := b.off + int64(len(p))
	if end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	copy(b.data[b.off:], p)
	b.off = end
	return len(p), nil
}

func (b *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.off + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("testutil: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("testutil: negative position")
	}
	b.off = abs
	return abs, nil
}

// Truncate changes the buffer length.
func (b *SeekBuffer) Truncate(size int64) error {
	if size < 0 {
		return errors.New("testutil: negative size")
	}
	if size <= int64(len(b.data)) {
		b.data = b.data[:size]
		return nil
	}
	b.data = append(b.data, make([]byte, size-int64(len(b.data)))...)
	return nil
}

// Bytes returns the buffer contents.
func (b *SeekBuffer) Bytes() []byte {
	return b.data
}
