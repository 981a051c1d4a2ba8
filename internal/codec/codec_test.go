package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate/internal/cratetype"
)

func sample() []byte {
	var buf bytes.Buffer
	for i := range 2000 {
		buf.WriteString("the quick brown fox jumps over the lazy dog ")
		buf.WriteByte(byte(i))
	}
	return buf.Bytes()
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	data := sample()
	levels := []cratetype.Level{cratetype.LevelFastest, cratetype.LevelNormal, cratetype.LevelHigh}

	for _, m := range cratetype.Methods {
		for _, level := range levels {
			t.Run(m.String()+"/"+level.String(), func(t *testing.T) {
				t.Parallel()

				c, err := Default.Codec(m)
				require.NoError(t, err)
				dict := c.DefaultDictionary(level)

				var packed bytes.Buffer
				w, err := c.NewWriter(&packed, level, dict)
				require.NoError(t, err)
				_, err = w.Write(data)
				require.NoError(t, err)
				require.NoError(t, w.Close())

				if m != cratetype.MethodCopy {
					assert.Less(t, packed.Len(), len(data), "compressible input shrinks")
				}

				r, err := c.NewReader(bytes.NewReader(packed.Bytes()), dict)
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				assert.Equal(t, data, got)
			})
		}
	}
}

func TestCodecEmptyInput(t *testing.T) {
	t.Parallel()

	for _, m := range cratetype.Methods {
		c, err := Default.Codec(m)
		require.NoError(t, err)

		var packed bytes.Buffer
		w, err := c.NewWriter(&packed, cratetype.LevelNormal, c.DefaultDictionary(cratetype.LevelNormal))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := c.NewReader(bytes.NewReader(packed.Bytes()), c.DefaultDictionary(cratetype.LevelNormal))
		require.NoError(t, err, m.String())
		got, err := io.ReadAll(r)
		require.NoError(t, err, m.String())
		assert.Empty(t, got, m.String())
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  cratetype.Format
		method  cratetype.Method
		level   cratetype.Level
		want    cratetype.Method
		wantErr bool
	}{
		{"crate default", cratetype.FormatCrate, cratetype.MethodDefault, cratetype.LevelNormal, cratetype.MethodLZMA2, false},
		{"zip default", cratetype.FormatZip, cratetype.MethodDefault, cratetype.LevelNormal, cratetype.MethodDeflate, false},
		{"tar default", cratetype.FormatTar, cratetype.MethodDefault, cratetype.LevelNormal, cratetype.MethodCopy, false},
		{"gzip default", cratetype.FormatGzip, cratetype.MethodDefault, cratetype.LevelNormal, cratetype.MethodDeflate, false},
		{"level none forces copy", cratetype.FormatCrate, cratetype.MethodLZMA, cratetype.LevelNone, cratetype.MethodCopy, false},
		{"gzip level none keeps deflate", cratetype.FormatGzip, cratetype.MethodDefault, cratetype.LevelNone, cratetype.MethodDeflate, false},
		{"zip zstd", cratetype.FormatZip, cratetype.MethodZstd, cratetype.LevelNormal, cratetype.MethodZstd, false},
		{"zip lzma rejected", cratetype.FormatZip, cratetype.MethodLZMA, cratetype.LevelNormal, 0, true},
		{"tar deflate rejected", cratetype.FormatTar, cratetype.MethodDeflate, cratetype.LevelNormal, 0, true},
		{"gzip copy rejected", cratetype.FormatGzip, cratetype.MethodCopy, cratetype.LevelNormal, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Default.Resolve(tt.format, tt.method, tt.level)
			if tt.wantErr {
				assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDictionary(t *testing.T) {
	t.Parallel()

	d, err := Default.Dictionary(cratetype.MethodLZMA2, cratetype.LevelNormal, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4<<20), d)

	d, err = Default.Dictionary(cratetype.MethodLZMA, cratetype.LevelNormal, 1<<16)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<16), d)

	_, err = Default.Dictionary(cratetype.MethodLZMA, cratetype.LevelNormal, 16)
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)

	_, err = Default.Dictionary(cratetype.MethodDeflate, cratetype.LevelNormal, 1<<20)
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)

	d, err = Default.Dictionary(cratetype.MethodCopy, cratetype.LevelNone, 1<<20)
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestSpecs(t *testing.T) {
	t.Parallel()

	for _, f := range cratetype.Formats {
		spec, err := Default.Spec(f)
		require.NoError(t, err)
		assert.True(t, spec.Supports(spec.Default), f.String())
	}

	gz, err := Default.Spec(cratetype.FormatGzip)
	require.NoError(t, err)
	assert.False(t, gz.MultiEntry)
	assert.False(t, gz.Encryption)

	_, err = Default.Spec(cratetype.Format(99))
	assert.ErrorIs(t, err, cratetype.ErrUnsupportedCombination)
}
