package container

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/cratetype"
)

type file struct {
	path    string
	content string
	dir     bool
}

var fixture = []file{
	{path: "docs", dir: true},
	{path: "docs/readme.md", content: strings.Repeat("read me please\n", 200)},
	{path: "main.go", content: "package main\n\nfunc main() {}\n"},
	{path: "empty.txt", content: ""},
}

var modTime = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

func header(f file, m cratetype.Method) Header {
	h := Header{
		Path:    f.path,
		ModTime: modTime,
		Mode:    0o644,
		IsDir:   f.dir,
		Size:    int64(len(f.content)),
		Method:  m,
		Level:   cratetype.LevelNormal,
	}
	if f.dir {
		h.Mode = 0o755
	}
	if m == cratetype.MethodLZMA || m == cratetype.MethodLZMA2 {
		h.Dictionary = 1 << 20
	}
	return h
}

func write(t *testing.T, format cratetype.Format, m cratetype.Method, opts WriterOptions, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(format, &buf, opts)
	require.NoError(t, err)
	for i, f := range files {
		e, err := w.Add(context.Background(), header(f, m), strings.NewReader(f.content))
		require.NoError(t, err, f.path)
		if format != cratetype.FormatGzip {
			assert.Equal(t, i, e.Index)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func open(t *testing.T, data []byte, password string) Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{Password: password})
	require.NoError(t, err)
	return r
}

func readAll(t *testing.T, r Reader, i int) string {
	t.Helper()
	rc, err := r.Open(i)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func assertContents(t *testing.T, r Reader, files []file) {
	t.Helper()
	entries := r.Entries()
	require.Len(t, entries, len(files))
	for i, f := range files {
		assert.Equal(t, f.path, entries[i].Path)
		assert.Equal(t, f.dir, entries[i].IsDir, f.path)
		if !f.dir {
			assert.Equal(t, uint64(len(f.content)), entries[i].Size, f.path)
			assert.Equal(t, f.content, readAll(t, r, i), f.path)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format  cratetype.Format
		methods []cratetype.Method
	}{
		{cratetype.FormatCrate, cratetype.Methods},
		{cratetype.FormatZip, []cratetype.Method{cratetype.MethodCopy, cratetype.MethodDeflate, cratetype.MethodZstd}},
		{cratetype.FormatTar, []cratetype.Method{cratetype.MethodCopy}},
	}
	for _, tc := range cases {
		for _, m := range tc.methods {
			t.Run(tc.format.String()+"/"+m.String(), func(t *testing.T) {
				t.Parallel()
				data := write(t, tc.format, m, WriterOptions{}, fixture)
				r := open(t, data, "")
				assert.Equal(t, tc.format, r.Format())
				assert.False(t, r.HeaderEncrypted())
				assertContents(t, r, fixture)
				require.NoError(t, r.Close())
			})
		}
	}
}

func TestGzipSingleEntry(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("gzip body ", 100)
	data := write(t, cratetype.FormatGzip, cratetype.MethodDeflate, WriterOptions{}, []file{{path: "dir/body.txt", content: content}})
	r := open(t, data, "")
	assert.Equal(t, cratetype.FormatGzip, r.Format())
	require.Len(t, r.Entries(), 1)
	assert.Equal(t, "body.txt", r.Entries()[0].Path)
	assert.Equal(t, uint64(len(content)), r.Entries()[0].Size)
	assert.Equal(t, content, readAll(t, r, 0))

	var buf bytes.Buffer
	w, err := NewWriter(cratetype.FormatGzip, &buf, WriterOptions{})
	require.NoError(t, err)
	_, err = w.Add(context.Background(), header(file{path: "a"}, cratetype.MethodDeflate), strings.NewReader(""))
	require.NoError(t, err)
	_, err = w.Add(context.Background(), header(file{path: "b"}, cratetype.MethodDeflate), strings.NewReader(""))
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
}

func TestUnknownSizeStreams(t *testing.T) {
	t.Parallel()

	for _, format := range []cratetype.Format{cratetype.FormatCrate, cratetype.FormatZip, cratetype.FormatTar} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			w, err := NewWriter(format, &buf, WriterOptions{})
			require.NoError(t, err)
			h := Header{Path: "stream", Size: -1, Method: cratetype.MethodCopy, Mode: 0o644}
			_, err = w.Add(context.Background(), h, strings.NewReader("streamed content"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r := open(t, buf.Bytes(), "")
			assert.Equal(t, "streamed content", readAll(t, r, 0))
		})
	}
}

func TestSizeChangeDetected(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(cratetype.FormatCrate, &buf, WriterOptions{})
	require.NoError(t, err)
	h := Header{Path: "grew", Size: 3, Method: cratetype.MethodCopy}
	_, err = w.Add(context.Background(), h, strings.NewReader("longer than three"))
	assert.ErrorIs(t, err, cratetype.ErrInvalidInput)
}

func TestEncryptedContent(t *testing.T) {
	t.Parallel()

	for _, format := range []cratetype.Format{cratetype.FormatCrate, cratetype.FormatZip} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()
			m := cratetype.MethodDeflate
			data := write(t, format, m, WriterOptions{Password: "hunter2"}, fixture)
			assert.NotContains(t, string(data), "read me please")

			r := open(t, data, "hunter2")
			assertContents(t, r, fixture)
			assert.True(t, r.Entries()[1].Encrypted)

			_, err := NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{Password: "wrong"})
			assert.ErrorIs(t, err, cratetype.ErrWrongPassword)

			// Without a password the listing is available but content is not.
			r = open(t, data, "")
			assert.Equal(t, "docs/readme.md", r.Entries()[1].Path)
			_, err = r.Open(1)
			assert.ErrorIs(t, err, cratetype.ErrMissingPassword)
		})
	}
}

func TestTamperedPayload(t *testing.T) {
	t.Parallel()

	files := []file{{path: "a.txt", content: strings.Repeat("tamper ", 500)}}
	data := write(t, cratetype.FormatCrate, cratetype.MethodCopy, WriterOptions{Password: "pw"}, files)
	// Flip a byte inside the ciphertext of the only payload.
	data[crateHeaderSize+40] ^= 0x01

	r := open(t, data, "pw")
	rc, err := r.Open(0)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, cratetype.ErrAuthentication)
}

func TestCorruptedPlainPayload(t *testing.T) {
	t.Parallel()

	files := []file{{path: "a.txt", content: strings.Repeat("corrupt ", 500)}}
	data := write(t, cratetype.FormatCrate, cratetype.MethodCopy, WriterOptions{}, files)
	data[crateHeaderSize+10] ^= 0x01

	r := open(t, data, "")
	rc, err := r.Open(0)
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, cratetype.ErrHashMismatch)

	cr, ok := r.(*crateReader)
	require.True(t, ok)
	assert.ErrorIs(t, cr.VerifyData(context.Background()), cratetype.ErrHashMismatch)
}

func TestHeaderEncryption(t *testing.T) {
	t.Parallel()

	data := write(t, cratetype.FormatCrate, cratetype.MethodLZMA2, WriterOptions{Password: "pw", EncryptHeaders: true}, fixture)
	assert.NotContains(t, string(data), "readme.md", "entry names are sealed")

	_, err := NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{})
	assert.ErrorIs(t, err, cratetype.ErrMissingPassword)

	_, err = NewReader(bytes.NewReader(data), int64(len(data)), ReaderOptions{Password: "nope"})
	assert.ErrorIs(t, err, cratetype.ErrWrongPassword)

	r := open(t, data, "pw")
	assert.True(t, r.HeaderEncrypted())
	assertContents(t, r, fixture)

	_, err = NewWriter(cratetype.FormatZip, io.Discard, WriterOptions{Password: "pw", EncryptHeaders: true})
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
}

func TestCopyPassthrough(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format cratetype.Format
		method cratetype.Method
		opts   WriterOptions
	}{
		{cratetype.FormatCrate, cratetype.MethodLZMA2, WriterOptions{}},
		{cratetype.FormatCrate, cratetype.MethodZstd, WriterOptions{Password: "pw"}},
		{cratetype.FormatZip, cratetype.MethodDeflate, WriterOptions{}},
		{cratetype.FormatZip, cratetype.MethodDeflate, WriterOptions{Password: "pw"}},
		{cratetype.FormatTar, cratetype.MethodCopy, WriterOptions{}},
	}
	for _, tc := range cases {
		t.Run(tc.format.String()+"/"+tc.method.String()+"/"+tc.opts.Password, func(t *testing.T) {
			t.Parallel()
			src := open(t, write(t, tc.format, tc.method, tc.opts, fixture), tc.opts.Password)

			var buf bytes.Buffer
			w, err := NewWriter(tc.format, &buf, tc.opts)
			require.NoError(t, err)
			ctx := context.Background()
			_, err = w.Copy(ctx, src, 2, "renamed/main.go")
			require.NoError(t, err)
			_, err = w.Copy(ctx, src, 1, "docs/readme.md")
			require.NoError(t, err)
			_, err = w.Add(ctx, header(file{path: "new.txt", content: "fresh"}, tc.method), strings.NewReader("fresh"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			out := open(t, buf.Bytes(), tc.opts.Password)
			assertContents(t, out, []file{
				{path: "renamed/main.go", content: fixture[2].content},
				{path: "docs/readme.md", content: fixture[1].content},
				{path: "new.txt", content: "fresh"},
			})
		})
	}
}

func TestCopyRejectsOtherFormats(t *testing.T) {
	t.Parallel()

	src := open(t, write(t, cratetype.FormatTar, cratetype.MethodCopy, WriterOptions{}, fixture), "")
	w, err := NewWriter(cratetype.FormatCrate, io.Discard, WriterOptions{})
	require.NoError(t, err)
	_, err = w.Copy(context.Background(), src, 1, "x")
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	for _, format := range []cratetype.Format{cratetype.FormatCrate, cratetype.FormatZip, cratetype.FormatTar} {
		data := write(t, format, cratetype.MethodCopy, WriterOptions{}, fixture)
		got, err := Detect(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, format, got)

		empty := write(t, format, cratetype.MethodCopy, WriterOptions{}, nil)
		got, err = Detect(bytes.NewReader(empty), int64(len(empty)))
		require.NoError(t, err, "empty %s", format)
		assert.Equal(t, format, got)
	}

	for _, junk := range [][]byte{nil, []byte("plain text, not an archive at all")} {
		_, err := Detect(bytes.NewReader(junk), int64(len(junk)))
		assert.ErrorIs(t, err, cratetype.ErrArchiveRead)
		assert.ErrorIs(t, err, cratetype.ErrNotAnArchive)
	}
}

// v7Tar builds a pre-POSIX tar holding one regular file.
func v7Tar(name, content string) []byte {
	block := make([]byte, 512)
	copy(block, name)
	copy(block[100:], "0000644\x00")
	copy(block[108:], "0000000\x00")
	copy(block[116:], "0000000\x00")
	copy(block[124:], fmt.Sprintf("%011o\x00", len(content)))
	copy(block[136:], fmt.Sprintf("%011o\x00", modTime.Unix()))
	copy(block[148:], "        ")
	block[156] = '0'
	var sum int
	for _, b := range block {
		sum += int(b)
	}
	copy(block[148:], fmt.Sprintf("%06o\x00 ", sum))

	data := append(block, content...)
	data = append(data, make([]byte, (512-len(content)%512)%512)...)
	return append(data, make([]byte, 1024)...)
}

func TestDetectV7Tar(t *testing.T) {
	t.Parallel()

	data := v7Tar("legacy.txt", "from the eighties")
	got, err := Detect(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, cratetype.FormatTar, got)

	r := open(t, data, "")
	assertContents(t, r, []file{{path: "legacy.txt", content: "from the eighties"}})

	// A broken checksum is not a tar.
	data[148] = '7'
	_, err = Detect(bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, cratetype.ErrNotAnArchive)

	noise := bytes.Repeat([]byte("not a tar header "), 100)
	_, err = Detect(bytes.NewReader(noise), int64(len(noise)))
	assert.ErrorIs(t, err, cratetype.ErrNotAnArchive)
}

func TestTarSpecialMembers(t *testing.T) {
	t.Parallel()

	var src bytes.Buffer
	tw := tar.NewWriter(&src)
	for _, hdr := range []*tar.Header{
		{Typeflag: tar.TypeReg, Name: "bin/tool", Mode: 0o755, Size: 4, Uname: "root"},
		{Typeflag: tar.TypeSymlink, Name: "tool", Linkname: "bin/tool", Mode: 0o777},
		{Typeflag: tar.TypeFifo, Name: "pipe", Mode: 0o600},
	} {
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte("exec"))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	r := open(t, src.Bytes(), "")
	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Special)
	assert.True(t, entries[1].Special)
	assert.Equal(t, "bin/tool", entries[1].Linkname)
	assert.True(t, entries[2].Special)
	assert.Empty(t, readAll(t, r, 1))

	var buf bytes.Buffer
	w, err := NewWriter(cratetype.FormatTar, &buf, WriterOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	for i, name := range []string{"bin/tool", "shortcut", "pipe"} {
		e, err := w.Copy(ctx, r, i, name)
		require.NoError(t, err)
		assert.Equal(t, i, e.Index)
		assert.Equal(t, name, e.Path)
	}
	require.NoError(t, w.Close())

	tr := tar.NewReader(&buf)
	var got []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, fmt.Sprintf("%s|%c|%s", hdr.Name, hdr.Typeflag, hdr.Linkname))
		if hdr.Typeflag == tar.TypeSymlink {
			assert.Equal(t, int64(0o777), hdr.Mode)
		}
	}
	assert.Equal(t, []string{"bin/tool|0|", "shortcut|2|bin/tool", "pipe|6|"}, got)
}

func TestTruncatedCrate(t *testing.T) {
	t.Parallel()

	data := write(t, cratetype.FormatCrate, cratetype.MethodCopy, WriterOptions{}, fixture)
	cut := data[:len(data)-5]
	_, err := NewReader(bytes.NewReader(cut), int64(len(cut)), ReaderOptions{})
	assert.ErrorIs(t, err, cratetype.ErrArchiveRead)
}

func TestOpenOutOfRange(t *testing.T) {
	t.Parallel()

	r := open(t, write(t, cratetype.FormatCrate, cratetype.MethodCopy, WriterOptions{}, fixture), "")
	_, err := r.Open(len(fixture))
	assert.ErrorIs(t, err, cratetype.ErrInvalidInput)
	_, err = r.Open(-1)
	assert.ErrorIs(t, err, cratetype.ErrInvalidInput)
}
