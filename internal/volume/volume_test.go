package volume

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/cratetype"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func TestCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Count(0, 64))
	assert.Equal(t, 1, Count(64, 64))
	assert.Equal(t, 2, Count(65, 64))
	assert.Equal(t, 16, Count(1000, 64))
}

func TestSplit(t *testing.T) {
	t.Parallel()

	data := payload(1000)
	var parts []Part
	var joined bytes.Buffer
	for p, err := range Split(bytes.NewReader(data), int64(len(data)), 64) {
		require.NoError(t, err)
		parts = append(parts, p)
		_, err = io.Copy(&joined, p)
		require.NoError(t, err)
	}
	require.Len(t, parts, 16)
	for _, p := range parts[:15] {
		assert.Equal(t, int64(64), p.Size)
	}
	assert.Equal(t, int64(1000-15*64), parts[15].Size)
	assert.Equal(t, data, joined.Bytes())
}

func TestSplitRejectsSmallVolumes(t *testing.T) {
	t.Parallel()

	for _, err := range Split(bytes.NewReader(nil), 0, MinSize-1) {
		assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
	}
}

func TestWriteDiscoverOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "out.crate")
	data := payload(300)

	// A stale, longer set must not survive.
	for n := 1; n <= 8; n++ {
		require.NoError(t, os.WriteFile(PartName(base, n), []byte("stale"), 0o644))
	}

	paths, err := WriteParts(base, Split(bytes.NewReader(data), int64(len(data)), 100))
	require.NoError(t, err)
	assert.Equal(t, []string{base + ".001", base + ".002", base + ".003"}, paths)
	_, err = os.Stat(PartName(base, 4))
	assert.True(t, os.IsNotExist(err))

	found, err := Discover(base)
	require.NoError(t, err)
	assert.Equal(t, paths, found)

	found, err = Discover(base + ".001")
	require.NoError(t, err)
	assert.Equal(t, paths, found)

	r, err := Open(found)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(300), r.Size())
	assert.Equal(t, 3, r.Parts())

	got, err := io.ReadAll(io.NewSectionReader(r, 0, r.Size()))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// A read spanning a boundary.
	buf := make([]byte, 50)
	n, err := r.ReadAt(buf, 80)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, data[80:130], buf)

	_, err = r.ReadAt(buf, 290)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDiscoverMissing(t *testing.T) {
	t.Parallel()

	_, err := Discover(filepath.Join(t.TempDir(), "none.crate"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
