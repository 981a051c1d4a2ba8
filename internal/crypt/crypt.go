// Package crypt implements the password based encryption used for entry
// payloads and archive headers.
//
// Payloads follow the WinZip AE-2 layout so that zip archives written with
// it are readable by other tools:
//
//	salt(16) | verifier(2) | ciphertext | auth code(10)
//
// Keys come from PBKDF2-HMAC-SHA1 over a per-entry salt, the cipher is
// AES-256 in CTR mode with a little-endian counter starting at one, and the
// auth code is a truncated HMAC-SHA1 over the ciphertext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // mandated by the AE-2 layout
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/meigma/crate/internal/cratetype"
)

// Layout constants.
const (
	SaltSize     = 16
	VerifierSize = 2
	MACSize      = 10
	KeySize      = 32
	Iterations   = 1000

	// HeaderSize is the number of bytes preceding the ciphertext.
	HeaderSize = SaltSize + VerifierSize

	// Overhead is the number of bytes encryption adds to a payload.
	Overhead = HeaderSize + MACSize
)

type keys struct {
	aes      []byte
	mac      []byte
	verifier []byte
}

func derive(password string, salt []byte) keys {
	dk := pbkdf2.Key([]byte(password), salt, Iterations, 2*KeySize+VerifierSize, sha1.New)
	return keys{
		aes:      dk[:KeySize],
		mac:      dk[KeySize : 2*KeySize],
		verifier: dk[2*KeySize:],
	}
}

// Writer encrypts everything written to it. Close appends the auth code
// but does not close the underlying writer.
type Writer struct {
	w      io.Writer
	stream *ctr
	mac    hash.Hash
	buf    []byte
	closed bool
}

// NewWriter writes a fresh salt and password verifier to w and returns a
// writer for the plaintext.
func NewWriter(w io.Writer, password string) (*Writer, error) {
	if password == "" {
		return nil, cratetype.ErrMissingPassword
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	k := derive(password, salt)
	stream, err := newCTR(k.aes)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}
	if _, err := w.Write(k.verifier); err != nil {
		return nil, err
	}
	return &Writer{
		w:      w,
		stream: stream,
		mac:    hmac.New(sha1.New, k.mac),
	}, nil
}

// Write implements io.Writer.
func (e *Writer) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("crypt: write after close")
	}
	if cap(e.buf) < len(p) {
		e.buf = make([]byte, len(p))
	}
	out := e.buf[:len(p)]
	e.stream.XORKeyStream(out, p)
	_, _ = e.mac.Write(out) //nolint:errcheck // hash writes never fail
	n, err := e.w.Write(out)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close writes the auth code.
func (e *Writer) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	_, err := e.w.Write(e.mac.Sum(nil)[:MACSize])
	return err
}

// Reader decrypts a payload and checks its auth code once the ciphertext
// is exhausted.
type Reader struct {
	r      io.Reader
	remain uint64
	stream *ctr
	mac    hash.Hash
	err    error
}

// NewReader reads the salt and verifier from r and returns a reader for the
// plaintext. size is the full payload size including Overhead.
//
// A verifier mismatch returns ErrWrongPassword. A bad auth code surfaces as
// ErrAuthentication from Read in place of io.EOF.
func NewReader(r io.Reader, size uint64, password string) (*Reader, error) {
	if password == "" {
		return nil, cratetype.ErrMissingPassword
	}
	if size < Overhead {
		return nil, fmt.Errorf("%w: payload too short", cratetype.ErrAuthentication)
	}
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read encryption header: %w", err)
	}
	k := derive(password, head[:SaltSize])
	if subtle.ConstantTimeCompare(k.verifier, head[SaltSize:]) != 1 {
		return nil, cratetype.ErrWrongPassword
	}
	stream, err := newCTR(k.aes)
	if err != nil {
		return nil, err
	}
	return &Reader{
		r:      r,
		remain: size - Overhead,
		stream: stream,
		mac:    hmac.New(sha1.New, k.mac),
	}, nil
}

// Read implements io.Reader.
func (d *Reader) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.remain == 0 {
		d.err = d.finish()
		return 0, d.err
	}
	if uint64(len(p)) > d.remain {
		p = p[:d.remain]
	}
	n, err := d.r.Read(p)
	if n > 0 {
		_, _ = d.mac.Write(p[:n]) //nolint:errcheck // hash writes never fail
		d.stream.XORKeyStream(p[:n], p[:n])
		d.remain -= uint64(n) //nolint:gosec // n is non-negative
	}
	if err == io.EOF {
		if d.remain > 0 {
			err = io.ErrUnexpectedEOF
		} else {
			err = nil
		}
	}
	if err != nil {
		d.err = err
	}
	return n, err
}

func (d *Reader) finish() error {
	want := make([]byte, MACSize)
	if _, err := io.ReadFull(d.r, want); err != nil {
		return fmt.Errorf("%w: read auth code: %w", cratetype.ErrAuthentication, err)
	}
	if !hmac.Equal(d.mac.Sum(nil)[:MACSize], want) {
		return cratetype.ErrAuthentication
	}
	return io.EOF
}

// CheckPassword verifies password against the salt and verifier at the
// start of an encrypted payload.
func CheckPassword(header []byte, password string) error {
	if password == "" {
		return cratetype.ErrMissingPassword
	}
	if len(header) < HeaderSize {
		return fmt.Errorf("%w: payload too short", cratetype.ErrAuthentication)
	}
	k := derive(password, header[:SaltSize])
	if subtle.ConstantTimeCompare(k.verifier, header[SaltSize:HeaderSize]) != 1 {
		return cratetype.ErrWrongPassword
	}
	return nil
}

// ctr is AES in counter mode with a little-endian block counter, as the
// AE-2 layout requires. crypto/cipher's CTR counts big-endian.
type ctr struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	ks      [aes.BlockSize]byte
	pos     int
}

func newCTR(key []byte) (*ctr, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &ctr{block: block, pos: aes.BlockSize}, nil
}

func (c *ctr) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == aes.BlockSize {
			c.increment()
			c.block.Encrypt(c.ks[:], c.counter[:])
			c.pos = 0
		}
		dst[i] = src[i] ^ c.ks[c.pos]
		c.pos++
	}
}

func (c *ctr) increment() {
	for i := range c.counter {
		c.counter[i]++
		if c.counter[i] != 0 {
			return
		}
	}
}
