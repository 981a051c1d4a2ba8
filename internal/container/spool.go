package container

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/meigma/crate/internal/ioutil"
)

// spoolFile is a temp file that removes itself on Close.
type spoolFile struct {
	*os.File
}

func (s *spoolFile) Close() error {
	name := s.Name()
	err := s.File.Close()
	os.Remove(name) //nolint:errcheck // best-effort cleanup
	return err
}

// spoolReader copies r into a temp file and rewinds it, for formats that
// need the content size before the content.
func spoolReader(ctx context.Context, r io.Reader, buf []byte) (*spoolFile, int64, error) {
	f, err := os.CreateTemp("", ".crate-spool-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool: %w", err)
	}
	s := &spoolFile{File: f}
	n, err := ioutil.CopyWithContext(ctx, f, r, buf)
	if err != nil {
		s.Close() //nolint:errcheck // already failing
		return nil, 0, fmt.Errorf("spool stream: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		s.Close() //nolint:errcheck // already failing
		return nil, 0, err
	}
	return s, int64(n), nil //nolint:gosec // a file cannot exceed int64
}
