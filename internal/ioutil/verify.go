package ioutil

import (
	"bytes"
	"crypto/sha256"
	"hash"
	"hash/crc32"
	"io"
)

// VerifyingReader checks the size and checksums of content as it is read.
// The check runs when the underlying reader reports io.EOF; a mismatch is
// returned in place of io.EOF.
type VerifyingReader struct {
	r        io.Reader
	size     uint64
	n        uint64
	crc      hash.Hash32
	wantCRC  uint32
	sha      hash.Hash
	wantHash []byte
	mismatch error
	overflow error
	done     bool
}

// NewVerifyingReader wraps r. A zero wantCRC or empty wantHash disables
// that particular check. mismatch is returned when a checksum differs and
// overflow when the content size differs from size.
func NewVerifyingReader(r io.Reader, size uint64, wantCRC uint32, wantHash []byte, mismatch, overflow error) *VerifyingReader {
	v := &VerifyingReader{
		r:        r,
		size:     size,
		wantCRC:  wantCRC,
		wantHash: wantHash,
		mismatch: mismatch,
		overflow: overflow,
	}
	if wantCRC != 0 {
		v.crc = crc32.NewIEEE()
	}
	if len(wantHash) > 0 {
		v.sha = sha256.New()
	}
	return v
}

// Read implements io.Reader.
func (v *VerifyingReader) Read(p []byte) (int, error) {
	if v.done {
		return 0, io.EOF
	}
	n, err := v.r.Read(p)
	if n > 0 {
		v.n += uint64(n) //nolint:gosec // n is non-negative
		if v.n > v.size {
			return n, v.overflow
		}
		if v.crc != nil {
			_, _ = v.crc.Write(p[:n]) //nolint:errcheck // hash writes never fail
		}
		if v.sha != nil {
			_, _ = v.sha.Write(p[:n]) //nolint:errcheck // hash writes never fail
		}
	}
	if err == io.EOF {
		v.done = true
		if verr := v.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (v *VerifyingReader) verify() error {
	if v.n != v.size {
		return v.overflow
	}
	if v.crc != nil && v.crc.Sum32() != v.wantCRC {
		return v.mismatch
	}
	if v.sha != nil && !bytes.Equal(v.sha.Sum(nil), v.wantHash) {
		return v.mismatch
	}
	return nil
}
