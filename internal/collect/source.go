// Package collect turns caller inputs (paths, directory trees, streams)
// into an ordered list of sources with archive names.
package collect

import (
	"io"
	"io/fs"
	"time"

	"github.com/meigma/crate/internal/platform"
)

// Source is one input to add to an archive.
type Source struct {
	// Name is the slash separated archive path.
	Name string

	// Path is the filesystem path, empty for streams.
	Path string

	// Reader is the stream to read when Path is empty.
	Reader io.Reader

	// Owned tells the engine to close Reader after use.
	Owned  bool
	opened bool

	// Size is the expected content size, or -1 when unknown.
	Size int64

	ModTime time.Time
	Mode    fs.FileMode
}

// Open returns the content of the source. Closing the result closes the
// underlying stream only when the source owns it.
func (s *Source) Open() (io.ReadCloser, error) {
	if s.Path != "" {
		return platform.OpenNoFollow(s.Path)
	}
	s.opened = true
	if c, ok := s.Reader.(io.ReadCloser); ok && s.Owned {
		return c, nil
	}
	return io.NopCloser(s.Reader), nil
}

// Close releases an owned stream that was never opened. Once Open was
// called, closing is left to the returned ReadCloser.
func (s *Source) Close() error {
	if s.opened {
		return nil
	}
	s.opened = true
	if c, ok := s.Reader.(io.Closer); ok && s.Owned {
		return c.Close()
	}
	return nil
}

// CloseAll releases every owned source that was never opened.
func CloseAll(sources []Source) {
	for i := range sources {
		sources[i].Close() //nolint:errcheck // best-effort cleanup
	}
}

func fileSource(name, path string, info fs.FileInfo) Source {
	return Source{
		Name:    name,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode().Perm(),
	}
}

func streamSource(name string, r io.Reader, owned bool, now time.Time) Source {
	return Source{
		Name:    name,
		Reader:  r,
		Owned:   owned,
		Size:    -1,
		ModTime: now,
		Mode:    0o644,
	}
}
