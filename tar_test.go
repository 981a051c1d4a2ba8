package crate

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarMember struct {
	name     string
	typeflag byte
	linkname string
	content  string
}

// writeExternalTar writes a tar as other tools produce it, with links.
func writeExternalTar(t *testing.T, path string, members []tarMember) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{
			Typeflag: m.typeflag,
			Name:     m.name,
			Linkname: m.linkname,
			Mode:     0o644,
			Uid:      1000,
			Uname:    "builder",
			ModTime:  time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC),
			Size:     int64(len(m.content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(m.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func readTarMembers(t *testing.T, path string) []tarMember {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	tr := tar.NewReader(f)
	var out []tarMember
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, tarMember{name: hdr.Name, typeflag: hdr.Typeflag, linkname: hdr.Linkname, content: string(data)})
	}
}

var linkedTar = []tarMember{
	{name: "a.txt", typeflag: tar.TypeReg, content: "alpha"},
	{name: "link", typeflag: tar.TypeSymlink, linkname: "a.txt"},
	{name: "hard", typeflag: tar.TypeLink, linkname: "a.txt"},
}

func TestAppendTarKeepsLinks(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "links.tar")
	writeExternalTar(t, dest, linkedTar)

	a := mustOpen(t, dest)
	entries := a.Entries()
	require.Len(t, entries, 3)
	assert.True(t, entries[1].Special)
	assert.Equal(t, "a.txt", entries[1].Linkname)
	require.NoError(t, a.Close())

	c := mustCompressor(t, WithFormat(FormatTar), WithMode(ModeAppend))
	require.NoError(t, c.CompressReaders(t.Context(), dest, map[string]io.Reader{"new.txt": strings.NewReader("new")}))

	assert.Equal(t, []tarMember{
		{name: "a.txt", typeflag: tar.TypeReg, content: "alpha"},
		{name: "link", typeflag: tar.TypeSymlink, linkname: "a.txt"},
		{name: "hard", typeflag: tar.TypeLink, linkname: "a.txt"},
		{name: "new.txt", typeflag: tar.TypeReg, content: "new"},
	}, readTarMembers(t, dest))
}

func TestModifyTarLinks(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "links.tar")
	writeExternalTar(t, dest, linkedTar)

	c := mustCompressor(t, WithFormat(FormatTar))
	require.NoError(t, c.ModifyArchive(t.Context(), dest, Modifications{1: Rename("bin/alias"), 2: Delete()}))

	assert.Equal(t, []tarMember{
		{name: "a.txt", typeflag: tar.TypeReg, content: "alpha"},
		{name: "bin/alias", typeflag: tar.TypeSymlink, linkname: "a.txt"},
	}, readTarMembers(t, dest))
}

func TestExtractSkipsTarLinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "links.tar")
	writeExternalTar(t, src, linkedTar)

	a := mustOpen(t, src)
	require.NoError(t, a.Verify(t.Context()))
	out := filepath.Join(dir, "out")
	require.NoError(t, a.Extract(t.Context(), out))

	got, err := os.ReadFile(filepath.Join(out, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))
	_, err = os.Lstat(filepath.Join(out, "link"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(filepath.Join(out, "hard"))
	assert.True(t, os.IsNotExist(err))
}
