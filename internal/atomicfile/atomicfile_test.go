package atomicfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCommit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.crate")

	f, err := Create(target)
	require.NoError(t, err)
	_, err = f.WriteString("payload")
	require.NoError(t, err)

	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err), "target must not exist before commit")

	require.NoError(t, f.Commit())
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	// Abort after commit must not remove the published file.
	f.Abort()
	_, err = os.Stat(target)
	require.NoError(t, err)
}

func TestAbortLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "out.crate")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	f, err := Create(target)
	require.NoError(t, err)
	_, err = f.WriteString("new")
	require.NoError(t, err)
	f.Abort()

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got), "existing file untouched")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed")
}

func TestSpool(t *testing.T) {
	t.Parallel()

	f, err := Spool()
	require.NoError(t, err)
	name := f.Name()
	assert.True(t, errors.Is(f.Commit(), ErrNoTarget))
	f.Abort()
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}
