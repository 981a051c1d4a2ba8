package collect

import (
	"path"
	"strings"
)

// SkipCompressionFunc returns true when a source should be stored
// uncompressed. It is called once per source and should be inexpensive.
type SkipCompressionFunc func(name string, size int64) bool

// DefaultSkipCompression returns a SkipCompressionFunc that skips small
// sources and known already-compressed extensions. Streams of unknown size
// are only matched by extension.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(name string, size int64) bool {
		if size >= 0 && minSize > 0 && size < minSize {
			return true
		}
		ext := strings.ToLower(path.Ext(name))
		_, ok := compressedExts[ext]
		return ok
	}
}

// ShouldSkip checks if any predicate returns true for the source.
func ShouldSkip(s *Source, predicates []SkipCompressionFunc) bool {
	for _, fn := range predicates {
		if fn != nil && fn(s.Name, s.Size) {
			return true
		}
	}
	return false
}

var compressedExts = map[string]struct{}{
	".7z":    {},
	".aac":   {},
	".avif":  {},
	".br":    {},
	".bz2":   {},
	".crate": {},
	".flac":  {},
	".gif":   {},
	".gz":    {},
	".jpeg":  {},
	".jpg":   {},
	".lz4":   {},
	".mkv":   {},
	".mov":   {},
	".mp3":   {},
	".mp4":   {},
	".ogg":   {},
	".pdf":   {},
	".png":   {},
	".rar":   {},
	".tgz":   {},
	".webm":  {},
	".webp":  {},
	".woff2": {},
	".xz":    {},
	".zip":   {},
	".zst":   {},
}
