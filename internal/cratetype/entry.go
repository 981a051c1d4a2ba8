package cratetype

import (
	"io/fs"
	"strings"
	"time"
)

// Entry describes one logical file or directory record inside an archive.
type Entry struct {
	// Index is the position of the entry within its archive generation.
	Index int

	// Path is the slash separated path relative to the archive root (e.g., "src/main.go").
	Path string

	// Size is the uncompressed size in bytes.
	Size uint64

	// PackedSize is the number of bytes the entry occupies in the container,
	// after compression and encryption.
	PackedSize uint64

	// ModTime is the entry's modification time.
	ModTime time.Time

	// Mode holds the entry's permission bits.
	Mode fs.FileMode

	// IsDir reports whether the entry is a directory record.
	IsDir bool

	// Special marks a tar member that is neither a regular file nor a
	// directory, such as a symlink, hard link or device node. Special
	// entries are carried through append and modify but never extracted.
	Special bool

	// Linkname is the target of a symlink or hard link member.
	Linkname string

	// CRC32 is the IEEE checksum of the uncompressed content.
	// Zero for formats that do not record it.
	CRC32 uint32

	// Hash is the SHA256 hash of the uncompressed content.
	// Only recorded by the crate format.
	Hash []byte

	// Method is the compression method used for the entry.
	Method Method

	// Dictionary is the codec dictionary or window size the entry was
	// encoded with. Zero means the codec default.
	Dictionary uint32

	// Encrypted reports whether the entry payload is encrypted.
	Encrypted bool
}

// Segments returns the ordered path segments of the entry.
func (e *Entry) Segments() []string {
	if e.Path == "" {
		return nil
	}
	return strings.Split(e.Path, "/")
}

// Name returns the last path segment.
func (e *Entry) Name() string {
	if i := strings.LastIndexByte(e.Path, '/'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}
