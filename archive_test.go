package crate

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/testutil"
)

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := Open("")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Open(dir)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = Open(filepath.Join(dir, "missing.crate"))
	require.ErrorIs(t, err, ErrArchiveRead)
	require.ErrorIs(t, err, fs.ErrNotExist)

	junk := filepath.Join(dir, "junk.bin")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not an archive"), 0o600))
	_, err = Open(junk)
	require.ErrorIs(t, err, ErrArchiveRead)
	require.ErrorIs(t, err, ErrNotAnArchive)
	var are *ArchiveReadError
	require.ErrorAs(t, err, &are)
	assert.Equal(t, junk, are.Path)

	_, err = OpenReader(nil, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestArchiveLookup(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	dest := filepath.Join(t.TempDir(), "out.crate")
	require.NoError(t, mustCompressor(t).CompressDirectory(t.Context(), src, dest))

	a := mustOpen(t, dest, OpenWithMaxFileSize(10_000))
	assert.Equal(t, 3, a.Len())
	assert.False(t, a.HeaderEncrypted())

	i, ok := a.Lookup("sub/deep/c.txt")
	require.True(t, ok)
	e, ok := a.Entry(i)
	require.True(t, ok)
	assert.Equal(t, uint64(len("charlie")), e.Size)
	assert.Len(t, e.Hash, 32)

	_, ok = a.Entry(a.Len())
	assert.False(t, ok)
	_, ok = a.Lookup("nope")
	assert.False(t, ok)

	_, err := a.ReadFile("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = a.ReadFile("sub/b.bin")
	require.ErrorIs(t, err, ErrSizeOverflow)
	b, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, sampleFiles["a.txt"], string(b))
}

func TestExtract(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	require.NoError(t, os.Chmod(filepath.Join(src, "sub", "deep", "c.txt"), 0o600))

	for _, f := range []Format{FormatCrate, FormatZip, FormatTar} {
		t.Run(f.String(), func(t *testing.T) {
			t.Parallel()

			dest := filepath.Join(t.TempDir(), "out"+f.Extension())
			require.NoError(t, mustCompressor(t, WithFormat(f)).CompressDirectory(t.Context(), src, dest))

			var mu sync.Mutex
			var last ProgressEvent
			out := filepath.Join(t.TempDir(), "extracted")
			err := mustOpen(t, dest).Extract(t.Context(), out,
				ExtractWithPreserveMode(true),
				ExtractWithWorkers(2),
				ExtractWithProgress(func(ev ProgressEvent) {
					mu.Lock()
					defer mu.Unlock()
					last = ev
				}),
			)
			require.NoError(t, err)
			assert.Equal(t, sampleFiles, testutil.ReadTree(t, out))

			info, err := os.Stat(filepath.Join(out, "sub", "deep", "c.txt"))
			require.NoError(t, err)
			assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, StageExtracting, last.Stage)
			assert.Equal(t, 3, last.FilesDone)
			assert.Equal(t, 3, last.FilesTotal)
		})
	}
}

func TestExtractOverwrite(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	dest := filepath.Join(t.TempDir(), "out.crate")
	require.NoError(t, mustCompressor(t).CompressDirectory(t.Context(), src, dest))
	a := mustOpen(t, dest)

	out := t.TempDir()
	testutil.WriteTree(t, out, map[string]string{"a.txt": "keep"})

	require.NoError(t, a.Extract(t.Context(), out, ExtractWithOverwrite(false)))
	got := testutil.ReadTree(t, out)
	assert.Equal(t, "keep", got["a.txt"])
	assert.Equal(t, "charlie", got["sub/deep/c.txt"])

	require.NoError(t, a.Extract(t.Context(), out))
	assert.Equal(t, sampleFiles, testutil.ReadTree(t, out))
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("gotcha")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	a, err := OpenReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	parent := t.TempDir()
	out := filepath.Join(parent, "out")
	err = a.Extract(t.Context(), out)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.NoFileExists(t, filepath.Join(parent, "evil.txt"))
}

func TestExtractMaxFileSize(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	dest := filepath.Join(t.TempDir(), "out.crate")
	require.NoError(t, mustCompressor(t).CompressDirectory(t.Context(), src, dest))

	err := mustOpen(t, dest, OpenWithMaxFileSize(1024)).Extract(t.Context(), t.TempDir())
	require.ErrorIs(t, err, ErrSizeOverflow)
}

func TestHeaderEncryption(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "secret.crate")
	c := mustCompressor(t, WithPassword("hunter2"), WithEncryptHeaders(true))
	require.NoError(t, c.CompressReaders(t.Context(), dest, map[string]io.Reader{
		"very-secret-name.txt": strings.NewReader("classified"),
	}))

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very-secret-name")
	assert.NotContains(t, string(raw), "classified")

	_, err = Open(dest)
	require.ErrorIs(t, err, ErrMissingPassword)
	_, err = Open(dest, OpenWithPassword("wrong"))
	require.ErrorIs(t, err, ErrWrongPassword)

	a := mustOpen(t, dest, OpenWithPassword("hunter2"))
	assert.True(t, a.HeaderEncrypted())
	assert.Equal(t, map[string]string{"very-secret-name.txt": "classified"}, contents(t, a))
	for _, e := range a.Entries() {
		assert.True(t, e.Encrypted)
	}
	require.NoError(t, a.Verify(t.Context()))
}

func TestZipEncryption(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	dest := filepath.Join(t.TempDir(), "secret.zip")
	require.NoError(t, mustCompressor(t, WithFormat(FormatZip), WithPassword("pw")).CompressDirectory(t.Context(), src, dest))

	_, err := Open(dest, OpenWithPassword("nope"))
	require.ErrorIs(t, err, ErrWrongPassword)

	a := mustOpen(t, dest, OpenWithPassword("pw"))
	assert.False(t, a.HeaderEncrypted())
	assert.Equal(t, []string{"a.txt", "sub/b.bin", "sub/deep/c.txt"}, a.Names())
	assert.Equal(t, sampleFiles, contents(t, a))
}

func TestOpenVolumesExplicit(t *testing.T) {
	t.Parallel()

	src := sampleTree(t)
	dest := filepath.Join(t.TempDir(), "split.zip")
	require.NoError(t, mustCompressor(t, WithFormat(FormatZip), WithVolumeSize(16<<10)).CompressDirectory(t.Context(), src, dest))

	var paths []string
	for n := 1; ; n++ {
		p := fmt.Sprintf("%s.%03d", dest, n)
		if _, err := os.Stat(p); err != nil {
			break
		}
		paths = append(paths, p)
	}
	require.Greater(t, len(paths), 1)

	a, err := OpenVolumes(paths)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, len(paths), a.Volumes())
	assert.Equal(t, sampleFiles, contents(t, a))
}
