package codec

import (
	"io"
	"math/bits"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/ioutil"
)

// Dictionary bounds for the LZMA family.
const (
	MinLZMADict = lzma.MinDictCap
	MaxLZMADict = 1 << 30
)

// Window bounds for zstd.
const (
	MinZstdWindow = zstd.MinWindowSize
	MaxZstdWindow = 1 << 29
)

func builtinCodecs() []*Codec {
	return []*Codec{
		{
			Method: cratetype.MethodCopy,
			encode: func(w io.Writer, _ cratetype.Level, _ uint32) (io.WriteCloser, error) {
				return ioutil.NopWriteCloser{Writer: w}, nil
			},
			decode: func(r io.Reader, _ uint32) (io.ReadCloser, error) {
				return io.NopCloser(r), nil
			},
		},
		{
			Method: cratetype.MethodDeflate,
			encode: func(w io.Writer, level cratetype.Level, _ uint32) (io.WriteCloser, error) {
				return flate.NewWriter(w, FlateLevel(level))
			},
			decode: func(r io.Reader, _ uint32) (io.ReadCloser, error) {
				return flate.NewReader(r), nil
			},
		},
		{
			Method:  cratetype.MethodLZMA,
			MinDict: MinLZMADict,
			MaxDict: MaxLZMADict,
			dict:    lzmaDict,
			encode: func(w io.Writer, _ cratetype.Level, dict uint32) (io.WriteCloser, error) {
				return lzma.WriterConfig{DictCap: int(dict)}.NewWriter(w)
			},
			decode: func(r io.Reader, dict uint32) (io.ReadCloser, error) {
				dec, err := lzma.ReaderConfig{DictCap: int(max(dict, MinLZMADict))}.NewReader(r)
				if err != nil {
					return nil, err
				}
				return io.NopCloser(dec), nil
			},
		},
		{
			Method:  cratetype.MethodLZMA2,
			MinDict: MinLZMADict,
			MaxDict: MaxLZMADict,
			dict:    lzmaDict,
			encode: func(w io.Writer, _ cratetype.Level, dict uint32) (io.WriteCloser, error) {
				return lzma.Writer2Config{DictCap: int(dict)}.NewWriter2(w)
			},
			decode: func(r io.Reader, dict uint32) (io.ReadCloser, error) {
				dec, err := lzma.Reader2Config{DictCap: int(max(dict, MinLZMADict))}.NewReader2(r)
				if err != nil {
					return nil, err
				}
				return io.NopCloser(dec), nil
			},
		},
		{
			Method:  cratetype.MethodZstd,
			MinDict: MinZstdWindow,
			MaxDict: MaxZstdWindow,
			dict:    zstdWindow,
			encode: func(w io.Writer, level cratetype.Level, dict uint32) (io.WriteCloser, error) {
				opts := []zstd.EOption{
					zstd.WithEncoderLevel(zstdLevel(level)),
					zstd.WithEncoderConcurrency(1),
				}
				if dict != 0 {
					opts = append(opts, zstd.WithWindowSize(roundWindow(dict)))
				}
				return zstd.NewWriter(w, opts...)
			},
			decode: func(r io.Reader, dict uint32) (io.ReadCloser, error) {
				opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
				if dict != 0 {
					opts = append(opts, zstd.WithDecoderMaxWindow(uint64(max(roundWindow(dict), MinZstdWindow))))
				}
				dec, err := zstd.NewReader(r, opts...)
				if err != nil {
					return nil, err
				}
				return dec.IOReadCloser(), nil
			},
		},
		{
			Method: cratetype.MethodLZ4,
			encode: func(w io.Writer, level cratetype.Level, _ uint32) (io.WriteCloser, error) {
				zw := lz4.NewWriter(w)
				if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
					return nil, err
				}
				return zw, nil
			},
			decode: func(r io.Reader, _ uint32) (io.ReadCloser, error) {
				return io.NopCloser(lz4.NewReader(r)), nil
			},
		},
		{
			Method: cratetype.MethodS2,
			encode: func(w io.Writer, level cratetype.Level, _ uint32) (io.WriteCloser, error) {
				var opts []s2.WriterOption
				switch level {
				case cratetype.LevelHigh:
					opts = append(opts, s2.WriterBetterCompression())
				case cratetype.LevelUltra:
					opts = append(opts, s2.WriterBestCompression())
				}
				return s2.NewWriter(w, opts...), nil
			},
			decode: func(r io.Reader, _ uint32) (io.ReadCloser, error) {
				return io.NopCloser(s2.NewReader(r)), nil
			},
		},
	}
}

// FlateLevel maps a level to a flate compression level.
func FlateLevel(level cratetype.Level) int {
	switch level {
	case cratetype.LevelNone:
		return flate.NoCompression
	case cratetype.LevelFastest:
		return flate.BestSpeed
	case cratetype.LevelFast:
		return 3
	case cratetype.LevelHigh:
		return 7
	case cratetype.LevelUltra:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func zstdLevel(level cratetype.Level) zstd.EncoderLevel {
	switch level {
	case cratetype.LevelNone, cratetype.LevelFastest:
		return zstd.SpeedFastest
	case cratetype.LevelHigh:
		return zstd.SpeedBetterCompression
	case cratetype.LevelUltra:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level cratetype.Level) lz4.CompressionLevel {
	switch level {
	case cratetype.LevelHigh:
		return lz4.Level6
	case cratetype.LevelUltra:
		return lz4.Level9
	default:
		return lz4.Fast
	}
}

func lzmaDict(level cratetype.Level) uint32 {
	switch level {
	case cratetype.LevelNone, cratetype.LevelFastest:
		return 64 << 10
	case cratetype.LevelFast:
		return 1 << 20
	case cratetype.LevelHigh:
		return 16 << 20
	case cratetype.LevelUltra:
		return 64 << 20
	default:
		return 4 << 20
	}
}

func zstdWindow(level cratetype.Level) uint32 {
	switch level {
	case cratetype.LevelUltra:
		return 8 << 20
	default:
		return 0
	}
}

// roundWindow rounds n up to the next power of two within the zstd window
// bounds.
func roundWindow(n uint32) int {
	n = min(max(n, MinZstdWindow), MaxZstdWindow)
	if n&(n-1) == 0 {
		return int(n)
	}
	return 1 << bits.Len32(n)
}
