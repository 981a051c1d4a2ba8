package crate

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/testutil"
)

func sampleArchive(t *testing.T, opts ...Option) string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "sample.crate")
	require.NoError(t, mustCompressor(t, opts...).CompressDirectory(t.Context(), sampleTree(t), dest))
	return dest
}

func TestModifyArchive(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t)
	before := mustOpen(t, dest).Entries()

	c := mustCompressor(t)
	require.NoError(t, c.ModifyArchive(t.Context(), dest, Modifications{
		0: Rename("docs/a.txt"),
		2: Delete(),
	}))

	a := mustOpen(t, dest)
	assert.Equal(t, []string{"docs/a.txt", "sub/b.bin"}, a.Names())
	assert.Equal(t, map[string]string{
		"docs/a.txt": sampleFiles["a.txt"],
		"sub/b.bin":  sampleFiles["sub/b.bin"],
	}, contents(t, a))

	moved, ok := a.Entry(0)
	require.True(t, ok)
	assert.Equal(t, before[0].Hash, moved.Hash)
	assert.Equal(t, before[0].PackedSize, moved.PackedSize)
	assert.Equal(t, 1, a.Entries()[1].Index)
}

func TestModifyArchiveWithNewFiles(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t)
	extra := filepath.Join(t.TempDir(), "new.txt")
	require.NoError(t, os.WriteFile(extra, []byte("fresh"), 0o600))

	require.NoError(t, mustCompressor(t).ModifyArchive(t.Context(), dest, Modifications{1: Delete()}, extra))

	a := mustOpen(t, dest)
	assert.Equal(t, []string{"a.txt", "sub/deep/c.txt", "new.txt"}, a.Names())
	b, err := a.ReadFile("new.txt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(b))
}

func TestModifyArchiveInvalid(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t)
	raw, err := os.ReadFile(dest)
	require.NoError(t, err)

	c := mustCompressor(t)
	tests := map[string]Modifications{
		"unknown index":     {7: Delete()},
		"negative index":    {-1: Delete()},
		"empty rename":      {0: Rename("")},
		"escaping rename":   {0: Rename("../a.txt")},
		"rename collision":  {0: Rename("sub/b.bin")},
		"partial bad batch": {0: Rename("ok.txt"), 9: Delete()},
	}
	for name, mods := range tests {
		err := c.ModifyArchive(t.Context(), dest, mods)
		require.ErrorIs(t, err, ErrInvalidModification, name)
		var opErr *OpError
		require.ErrorAs(t, err, &opErr, name)
		assert.Equal(t, ModeModify, opErr.Mode, name)
	}

	after, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, raw, after)

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestModifyArchiveSwap(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t)
	require.NoError(t, mustCompressor(t).ModifyArchive(t.Context(), dest, Modifications{
		0: Rename("sub/deep/c.txt"),
		2: Rename("a.txt"),
	}))

	got := contents(t, mustOpen(t, dest))
	assert.Equal(t, sampleFiles["a.txt"], got["sub/deep/c.txt"])
	assert.Equal(t, "charlie", got["a.txt"])
}

func TestModifyArchiveMissing(t *testing.T) {
	t.Parallel()

	err := mustCompressor(t).ModifyArchive(t.Context(), filepath.Join(t.TempDir(), "missing.crate"), Modifications{0: Delete()})
	require.ErrorIs(t, err, ErrArchiveRead)
	require.ErrorIs(t, err, fs.ErrNotExist)
	var are *ArchiveReadError
	require.ErrorAs(t, err, &are)
}

func TestModifyEmptyRewrites(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t)
	require.NoError(t, mustCompressor(t).ModifyArchive(t.Context(), dest, nil))
	assert.Equal(t, sampleFiles, contents(t, mustOpen(t, dest)))
}

func TestModifyEncrypted(t *testing.T) {
	t.Parallel()

	dest := sampleArchive(t, WithPassword("pw"), WithEncryptHeaders(true))

	err := mustCompressor(t, WithPassword("wrong")).ModifyArchive(t.Context(), dest, Modifications{0: Delete()})
	require.ErrorIs(t, err, ErrWrongPassword)
	err = mustCompressor(t).ModifyArchive(t.Context(), dest, Modifications{0: Delete()})
	require.ErrorIs(t, err, ErrMissingPassword)

	require.NoError(t, mustCompressor(t, WithPassword("pw")).ModifyArchive(t.Context(), dest, Modifications{0: Rename("renamed.txt")}))

	a := mustOpen(t, dest, OpenWithPassword("pw"))
	assert.True(t, a.HeaderEncrypted())
	assert.Equal(t, []string{"renamed.txt", "sub/b.bin", "sub/deep/c.txt"}, a.Names())
	assert.Equal(t, sampleFiles["a.txt"], contents(t, a)["renamed.txt"])
}

func TestModifyArchiveStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, mustCompressor(t, WithFormat(FormatZip)).CompressDirectoryToWriter(t.Context(), sampleTree(t), &buf))

	sb := testutil.NewSeekBuffer(buf.Bytes())
	require.NoError(t, mustCompressor(t).ModifyArchiveStream(t.Context(), sb, Modifications{1: Delete()}))
	assert.Less(t, len(sb.Bytes()), buf.Len())

	a, err := OpenReader(bytes.NewReader(sb.Bytes()), int64(len(sb.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, FormatZip, a.Format())
	assert.Equal(t, []string{"a.txt", "sub/deep/c.txt"}, a.Names())
}

func TestModifyArchiveStreamCannotShrink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, mustCompressor(t).CompressDirectoryToWriter(t.Context(), sampleTree(t), &buf))
	original := bytes.Clone(buf.Bytes())

	sb := testutil.NewSeekBuffer(buf.Bytes())
	// Hide Truncate.
	rws := struct{ io.ReadWriteSeeker }{sb}
	err := mustCompressor(t).ModifyArchiveStream(t.Context(), rws, Modifications{1: Delete()})
	require.ErrorIs(t, err, ErrUnsupportedCombination)
	assert.Equal(t, original, sb.Bytes())

	err = mustCompressor(t).ModifyArchiveStream(t.Context(), testutil.NewSeekBuffer(nil), Modifications{})
	require.ErrorIs(t, err, ErrNotAnArchive)
}
