package container

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/meigma/crate/internal/codec"
	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/crypt"
	"github.com/meigma/crate/internal/ioutil"
)

const copyBufSize = 64 << 10

// encoded holds the result of running content through the encode pipeline.
type encoded struct {
	size   uint64
	packed uint64
	crc    uint32
	hash   []byte
}

// encode compresses src with the header's codec, encrypts the result when
// password is set, and writes it to dst.
func encode(ctx context.Context, dst io.Writer, src io.Reader, h Header, password string, buf []byte) (encoded, error) {
	c, err := codec.Default.Codec(h.Method)
	if err != nil {
		return encoded{}, err
	}

	out := &ioutil.CountingWriter{W: dst}
	var sink io.Writer = out
	var enc *crypt.Writer
	if password != "" {
		enc, err = crypt.NewWriter(out, password)
		if err != nil {
			return encoded{}, fmt.Errorf("start encryption: %w", err)
		}
		sink = enc
	}

	cw, err := c.NewWriter(sink, h.Level, h.Dictionary)
	if err != nil {
		return encoded{}, err
	}

	crc := crc32.NewIEEE()
	sha := sha256.New()
	n, err := ioutil.CopyWithContext(ctx, cw, io.TeeReader(src, io.MultiWriter(crc, sha)), buf)
	if err != nil {
		cw.Close() //nolint:errcheck // already failing
		return encoded{}, err
	}
	if err := cw.Close(); err != nil {
		return encoded{}, fmt.Errorf("flush %s encoder: %w", h.Method, err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return encoded{}, fmt.Errorf("finish encryption: %w", err)
		}
	}
	if h.Size >= 0 && n != uint64(h.Size) {
		return encoded{}, fmt.Errorf("%w: %s changed size while reading (%d != %d)", cratetype.ErrInvalidInput, h.Path, n, h.Size)
	}

	return encoded{
		size:   n,
		packed: out.N,
		crc:    crc.Sum32(),
		hash:   sha.Sum(nil),
	}, nil
}

// decode reverses encode for the payload in raw. The returned reader
// verifies size, CRC32 and hash (when recorded) at EOF.
func decode(raw io.Reader, e *cratetype.Entry, password string) (io.ReadCloser, error) {
	var tail io.Reader
	if e.Encrypted {
		r, err := crypt.NewReader(raw, e.PackedSize, password)
		if err != nil {
			return nil, err
		}
		raw = r
		tail = r
	}
	c, err := codec.Default.Codec(e.Method)
	if err != nil {
		return nil, err
	}
	dec, err := c.NewReader(raw, e.Dictionary)
	if err != nil {
		return nil, err
	}
	vr := ioutil.NewVerifyingReader(dec, e.Size, e.CRC32, e.Hash, cratetype.ErrHashMismatch, cratetype.ErrHashMismatch)
	return &decodeReader{r: vr, dec: dec, tail: tail}, nil
}

type decodeReader struct {
	r   io.Reader
	dec io.Closer

	// tail is drained at EOF so the auth code of an encrypted payload is
	// checked even when the codec stops at its own end marker.
	tail io.Reader
}

func (d *decodeReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF && d.tail != nil {
		tail := d.tail
		d.tail = nil
		if _, terr := io.Copy(io.Discard, tail); terr != nil {
			return n, terr
		}
	}
	if err != nil && err != io.EOF && !isVerifyErr(err) {
		err = fmt.Errorf("%w: %w", cratetype.ErrDecompression, err)
	}
	return n, err
}

func (d *decodeReader) Close() error {
	return d.dec.Close()
}

func isVerifyErr(err error) bool {
	return errors.Is(err, cratetype.ErrHashMismatch) ||
		errors.Is(err, cratetype.ErrAuthentication) ||
		errors.Is(err, cratetype.ErrDecompression)
}

type rawReader interface {
	Entries() []cratetype.Entry
	raw(i int) (io.Reader, error)
}

// checkFirstEncrypted validates password against the first encrypted entry
// so that a wrong password is reported when the archive is opened.
func checkFirstEncrypted(r rawReader, password string) error {
	if password == "" {
		return nil
	}
	for i, e := range r.Entries() {
		if !e.Encrypted || e.IsDir {
			continue
		}
		raw, err := r.raw(i)
		if err != nil {
			return err
		}
		head := make([]byte, crypt.HeaderSize)
		if _, err := io.ReadFull(raw, head); err != nil {
			return fmt.Errorf("%w: read encryption header: %w", cratetype.ErrArchiveRead, err)
		}
		return crypt.CheckPassword(head, password)
	}
	return nil
}
