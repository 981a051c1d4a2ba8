package directory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/container"
	"github.com/meigma/crate/internal/cratetype"
)

func loadModel(t *testing.T, names ...string) *Model {
	t.Helper()

	var buf bytes.Buffer
	w, err := container.NewWriter(cratetype.FormatCrate, &buf, container.WriterOptions{})
	require.NoError(t, err)
	for _, name := range names {
		_, err := w.Add(context.Background(), container.Header{
			Path:    name,
			ModTime: time.Unix(1700000000, 0),
			Mode:    0o644,
			Size:    int64(len(name)),
			Method:  cratetype.MethodCopy,
		}, strings.NewReader(name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := container.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()), container.ReaderOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return Load(r, 1)
}

func paths(m *Model) []string {
	out := make([]string, m.Len())
	for i, e := range m.Entries() {
		out[i] = e.Path
	}
	return out
}

func TestLoad(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a.txt", "b/c.txt")
	assert.Equal(t, cratetype.FormatCrate, m.Format)
	assert.Equal(t, 1, m.Volumes)
	assert.False(t, m.Encrypted)
	assert.Equal(t, []string{"a.txt", "b/c.txt"}, paths(m))
	for i, it := range m.Items {
		assert.True(t, it.Passthrough())
		assert.Equal(t, i, it.Origin)
		assert.Equal(t, i, it.Entry.Index)
	}
	require.NoError(t, m.Validate())
}

func TestApply(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a", "b", "c", "d")

	out, err := m.Apply(map[int]Change{
		0: {Delete: true},
		2: {Rename: "dir/renamed"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "dir/renamed", "d"}, paths(out))
	assert.Equal(t, []int{1, 2, 3}, []int{out.Items[0].Origin, out.Items[1].Origin, out.Items[2].Origin})
	require.NoError(t, out.Validate())

	// receiver untouched
	assert.Equal(t, []string{"a", "b", "c", "d"}, paths(m))
}

func TestApplyRenameChain(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a", "b")
	out, err := m.Apply(map[int]Change{0: {Rename: "b"}, 1: {Rename: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, paths(out))
}

func TestApplyInvalid(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a", "b")
	tests := []struct {
		name    string
		changes map[int]Change
	}{
		{"negative index", map[int]Change{-1: {Delete: true}}},
		{"index past end", map[int]Change{2: {Delete: true}}},
		{"empty rename", map[int]Change{0: {}}},
		{"escaping rename", map[int]Change{0: {Rename: "../x"}}},
		{"rename collision", map[int]Change{0: {Rename: "b"}}},
		{"valid then invalid", map[int]Change{0: {Delete: true}, 5: {Delete: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := m.Apply(tt.changes)
			require.ErrorIs(t, err, cratetype.ErrInvalidModification)
			assert.Nil(t, out)
		})
	}
	assert.Equal(t, []string{"a", "b"}, paths(m))
}

func TestApplyDeleteAll(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a", "b")
	out, err := m.Apply(map[int]Change{0: {Delete: true}, 1: {Delete: true}})
	require.NoError(t, err)
	assert.Zero(t, out.Len())
}

func TestAppendSources(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a")
	sources, err := collect.Readers(map[string]io.Reader{
		"z": strings.NewReader("zz"),
		"y": strings.NewReader("y"),
	}, false)
	require.NoError(t, err)

	out := m.AppendSources(sources)
	assert.Equal(t, []string{"a", "y", "z"}, paths(out))
	assert.Equal(t, 1, m.Len())
	for i, it := range out.Items {
		assert.Equal(t, i, it.Entry.Index)
	}
	assert.False(t, out.Items[1].Passthrough())
	require.NotNil(t, out.Items[1].Source)
	assert.Equal(t, "y", out.Items[1].Source.Name)
	require.NoError(t, out.Validate())
}

func TestValidateDuplicate(t *testing.T) {
	t.Parallel()

	m := loadModel(t, "a")
	sources, err := collect.Readers(map[string]io.Reader{"a": strings.NewReader("again")}, false)
	require.NoError(t, err)

	err = m.AppendSources(sources).Validate()
	require.ErrorIs(t, err, cratetype.ErrInvalidInput)
	assert.Contains(t, err.Error(), `"a"`)
}

type countingCloser struct {
	io.Reader
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestRelease(t *testing.T) {
	t.Parallel()

	opened := &countingCloser{Reader: strings.NewReader("o")}
	pending := &countingCloser{Reader: strings.NewReader("p")}
	sources, err := collect.Readers(map[string]io.Reader{"opened": opened, "pending": pending}, true)
	require.NoError(t, err)
	out := loadModel(t, "a").AppendSources(sources)

	rc, err := out.Items[1].Source.Open()
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	out.Release()
	out.Release()
	assert.Equal(t, 1, opened.closes)
	assert.Equal(t, 1, pending.closes)
}

func TestNew(t *testing.T) {
	t.Parallel()

	m := New(cratetype.FormatZip)
	assert.Equal(t, cratetype.FormatZip, m.Format)
	assert.Zero(t, m.Len())
	require.NoError(t, m.Validate())
}
