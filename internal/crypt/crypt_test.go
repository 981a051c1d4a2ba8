package crypt

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/cratetype"
)

func encrypt(t *testing.T, data []byte, password string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, password)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, 1, 15, 16, 17, 4096, 100003} {
		data := bytes.Repeat([]byte{0xAB, 0x01, 0x7F}, size/3+1)[:size]
		sealed := encrypt(t, data, "secret")
		require.Len(t, sealed, size+Overhead)
		if size >= 16 {
			assert.NotContains(t, string(sealed), string(data), "ciphertext hides plaintext")
		}

		r, err := NewReader(bytes.NewReader(sealed), uint64(len(sealed)), "secret")
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestPayloadSaltsDiffer(t *testing.T) {
	t.Parallel()

	a := encrypt(t, []byte("same"), "pw")
	b := encrypt(t, []byte("same"), "pw")
	assert.NotEqual(t, a, b)
}

func TestPayloadWrongPassword(t *testing.T) {
	t.Parallel()

	sealed := encrypt(t, []byte("content"), "right")
	_, err := NewReader(bytes.NewReader(sealed), uint64(len(sealed)), "wrong")
	assert.ErrorIs(t, err, cratetype.ErrWrongPassword)

	assert.ErrorIs(t, CheckPassword(sealed, "wrong"), cratetype.ErrWrongPassword)
	assert.NoError(t, CheckPassword(sealed, "right"))
	assert.ErrorIs(t, CheckPassword(sealed, ""), cratetype.ErrMissingPassword)
}

func TestPayloadTampered(t *testing.T) {
	t.Parallel()

	sealed := encrypt(t, []byte("content that will be tampered with"), "pw")
	sealed[HeaderSize+3] ^= 0xFF

	r, err := NewReader(bytes.NewReader(sealed), uint64(len(sealed)), "pw")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, cratetype.ErrAuthentication)
}

func TestPayloadTruncated(t *testing.T) {
	t.Parallel()

	_, err := NewReader(bytes.NewReader([]byte("short")), 5, "pw")
	assert.ErrorIs(t, err, cratetype.ErrAuthentication)
}

func TestMissingPassword(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(io.Discard, "")
	assert.ErrorIs(t, err, cratetype.ErrMissingPassword)
	_, err = Seal([]byte("x"), "")
	assert.ErrorIs(t, err, cratetype.ErrMissingPassword)
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	plain := []byte("index bytes with entry names")
	sealed, err := Seal(plain, "pw")
	require.NoError(t, err)
	assert.Len(t, sealed, len(plain)+SealOverhead)
	assert.NotContains(t, string(sealed), "entry names")

	got, err := Open(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	_, err = Open(sealed, "other")
	assert.ErrorIs(t, err, cratetype.ErrWrongPassword)

	_, err = Open(sealed[:10], "pw")
	assert.ErrorIs(t, err, cratetype.ErrWrongPassword)
}

func TestCTRCounterIsLittleEndian(t *testing.T) {
	t.Parallel()

	c, err := newCTR(make([]byte, KeySize))
	require.NoError(t, err)
	c.counter[0] = 0xFF
	c.increment()
	assert.Equal(t, byte(0x00), c.counter[0])
	assert.Equal(t, byte(0x01), c.counter[1])
}
