package container

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	"github.com/meigma/crate/internal/cratetype"
)

const sniffSize = 512

var signatures = []struct {
	format cratetype.Format
	offset int
	magic  []byte
}{
	{cratetype.FormatCrate, 0, []byte(crateMagic)},
	{cratetype.FormatZip, 0, []byte("PK\x03\x04")},
	{cratetype.FormatZip, 0, []byte("PK\x05\x06")},
	{cratetype.FormatGzip, 0, []byte{0x1f, 0x8b}},
	{cratetype.FormatTar, 257, []byte("ustar")},
}

// Detect identifies the container format from its leading bytes.
func Detect(r io.ReaderAt, size int64) (cratetype.Format, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: %w: empty input", cratetype.ErrArchiveRead, cratetype.ErrNotAnArchive)
	}
	head := make([]byte, min(size, sniffSize))
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, err)
	}
	head = head[:n]
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(head) >= end && bytes.Equal(head[sig.offset:end], sig.magic) {
			return sig.format, nil
		}
	}
	// A tar archive holding no entries is just zero blocks.
	if len(head) == sniffSize && size%sniffSize == 0 && isZeroBlock(head) {
		return cratetype.FormatTar, nil
	}
	// Pre-POSIX tars have no magic; accept a first header whose checksum holds.
	if len(head) == sniffSize && isV7Header(r, size) {
		return cratetype.FormatTar, nil
	}
	return 0, fmt.Errorf("%w: %w", cratetype.ErrArchiveRead, cratetype.ErrNotAnArchive)
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func isV7Header(r io.ReaderAt, size int64) bool {
	hdr, err := tar.NewReader(io.NewSectionReader(r, 0, size)).Next()
	return err == nil && hdr.Name != ""
}
