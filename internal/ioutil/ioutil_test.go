package ioutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMismatch = errors.New("mismatch")
	errSize     = errors.New("size")
)

func TestCountingReaderWriter(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("x"), 1000)
	cr := &CountingReader{R: bytes.NewReader(data)}
	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}

	_, err := io.Copy(cw, cr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cr.N)
	assert.Equal(t, uint64(1000), cw.N)
	assert.Equal(t, data, buf.Bytes())
}

func TestCopyWithContext(t *testing.T) {
	t.Parallel()

	t.Run("copies everything", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("abc"), 50000)
		var dst bytes.Buffer
		n, err := CopyWithContext(context.Background(), &dst, bytes.NewReader(data), nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(data)), n)
		assert.Equal(t, data, dst.Bytes())
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var dst bytes.Buffer
		_, err := CopyWithContext(ctx, &dst, bytes.NewReader([]byte("data")), nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, dst.Len())
	})
}

func TestVerifyingReader(t *testing.T) {
	t.Parallel()

	data := []byte("hello verifying reader")
	sum := sha256.Sum256(data)
	crc := crc32.ChecksumIEEE(data)

	t.Run("valid content", func(t *testing.T) {
		t.Parallel()
		vr := NewVerifyingReader(bytes.NewReader(data), uint64(len(data)), crc, sum[:], errMismatch, errSize)
		got, err := io.ReadAll(vr)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("crc mismatch", func(t *testing.T) {
		t.Parallel()
		vr := NewVerifyingReader(bytes.NewReader(data), uint64(len(data)), crc+1, nil, errMismatch, errSize)
		_, err := io.ReadAll(vr)
		assert.ErrorIs(t, err, errMismatch)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		t.Parallel()
		bad := sha256.Sum256([]byte("other"))
		vr := NewVerifyingReader(bytes.NewReader(data), uint64(len(data)), 0, bad[:], errMismatch, errSize)
		_, err := io.ReadAll(vr)
		assert.ErrorIs(t, err, errMismatch)
	})

	t.Run("short content", func(t *testing.T) {
		t.Parallel()
		vr := NewVerifyingReader(bytes.NewReader(data), uint64(len(data))+1, 0, nil, errMismatch, errSize)
		_, err := io.ReadAll(vr)
		assert.ErrorIs(t, err, errSize)
	})

	t.Run("long content", func(t *testing.T) {
		t.Parallel()
		vr := NewVerifyingReader(bytes.NewReader(data), 3, 0, nil, errMismatch, errSize)
		_, err := io.ReadAll(vr)
		assert.ErrorIs(t, err, errSize)
	})
}
