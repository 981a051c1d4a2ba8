package crate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/meigma/crate/internal/batch"
	"github.com/meigma/crate/internal/container"
	"github.com/meigma/crate/internal/ioutil"
	"github.com/meigma/crate/internal/sizing"
	"github.com/meigma/crate/internal/volume"
)

// Archive is an opened archive. It is safe for concurrent reads.
type Archive struct {
	r       container.Reader
	closer  io.Closer
	volumes int
	names   map[string]int
	cfg     openConfig
}

// Open opens the archive at path. When path does not exist but
// path.001 does, the volume set path.001, path.002, ... is opened instead.
// Naming the first part ("a.crate.001") opens the whole set.
//
// Parse failures match ErrArchiveRead and are returned as *ArchiveReadError.
func Open(path string, opts ...OpenOption) (*Archive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty archive path", ErrInvalidInput)
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, path)
	case err == nil && volume.Base(path) == path:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		a, err := newArchive(f, info.Size(), f, 0, path, opts)
		if err != nil {
			f.Close() //nolint:errcheck // already failing
			return nil, err
		}
		return a, nil
	case err == nil || errors.Is(err, fs.ErrNotExist):
		paths, derr := volume.Discover(path)
		if derr != nil {
			if err == nil {
				err = ErrNotAnArchive
			}
			return nil, readError(path, err)
		}
		return OpenVolumes(paths, opts...)
	default:
		return nil, err
	}
}

// OpenVolumes opens a volume set from its parts in order.
func OpenVolumes(paths []string, opts ...OpenOption) (*Archive, error) {
	vr, err := volume.Open(paths)
	if err != nil {
		return nil, err
	}
	a, err := newArchive(vr, vr.Size(), vr, vr.Parts(), volume.Base(paths[0]), opts)
	if err != nil {
		vr.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return a, nil
}

// OpenReader opens an archive held in r. The caller keeps ownership of r.
func OpenReader(r io.ReaderAt, size int64, opts ...OpenOption) (*Archive, error) {
	if r == nil || size < 0 {
		return nil, fmt.Errorf("%w: nil reader or negative size", ErrInvalidInput)
	}
	return newArchive(r, size, nil, 0, "", opts)
}

func newArchive(ra io.ReaderAt, size int64, closer io.Closer, volumes int, name string, opts []OpenOption) (*Archive, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := container.NewReader(ra, size, container.ReaderOptions{Password: cfg.password})
	if err != nil {
		return nil, readError(name, err)
	}
	a := &Archive{
		r:       r,
		closer:  closer,
		volumes: volumes,
		names:   make(map[string]int, len(r.Entries())),
		cfg:     cfg,
	}
	for i, e := range r.Entries() {
		if _, dup := a.names[e.Path]; !dup {
			a.names[e.Path] = i
		}
	}
	a.log().Debug("archive opened",
		"path", name,
		"format", r.Format().String(),
		"entries", len(r.Entries()),
		"volumes", volumes,
		"header_encrypted", r.HeaderEncrypted(),
	)
	return a, nil
}

func (a *Archive) log() *slog.Logger {
	if a.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.cfg.logger
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return len(a.r.Entries())
}

// Entries returns a copy of the entries in archive order.
func (a *Archive) Entries() []Entry {
	return append([]Entry(nil), a.r.Entries()...)
}

// Names returns the entry paths in archive order.
func (a *Archive) Names() []string {
	entries := a.r.Entries()
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Path
	}
	return out
}

// Format returns the container format.
func (a *Archive) Format() Format {
	return a.r.Format()
}

// HeaderEncrypted reports whether entry metadata is encrypted.
func (a *Archive) HeaderEncrypted() bool {
	return a.r.HeaderEncrypted()
}

// Volumes returns the number of parts, or 0 for a single file.
func (a *Archive) Volumes() int {
	return a.volumes
}

// Entry returns entry i.
func (a *Archive) Entry(i int) (Entry, bool) {
	entries := a.r.Entries()
	if i < 0 || i >= len(entries) {
		return Entry{}, false
	}
	return entries[i], true
}

// Lookup returns the index of the entry named name.
func (a *Archive) Lookup(name string) (int, bool) {
	i, ok := a.names[name]
	return i, ok
}

// Open returns the content of entry i. Reading to EOF verifies the size
// and checksums; corruption surfaces as ErrHashMismatch, ErrAuthentication
// or ErrDecompression.
func (a *Archive) Open(i int) (io.ReadCloser, error) {
	return a.r.Open(i)
}

// ReadFile returns the content of the entry named name.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	i, ok := a.names[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	e := a.r.Entries()[i]
	if a.cfg.maxFileSize > 0 && e.Size > a.cfg.maxFileSize {
		return nil, fmt.Errorf("%s: %w: %d bytes exceeds limit %d", name, ErrSizeOverflow, e.Size, a.cfg.maxFileSize)
	}
	rc, err := a.r.Open(i)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if a.cfg.maxFileSize > 0 {
		return sizing.ReadAllWithLimit(rc, a.cfg.maxFileSize, fmt.Errorf("%s: %w", name, ErrSizeOverflow))
	}
	return io.ReadAll(rc)
}

// Verify decodes every entry and checks its size and checksums. For crate
// archives the digest of the data region is checked as well.
func (a *Archive) Verify(ctx context.Context) error {
	if v, ok := a.r.(interface{ VerifyData(context.Context) error }); ok {
		if err := v.VerifyData(ctx); err != nil {
			return err
		}
	}
	for i, e := range a.r.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir {
			continue
		}
		rc, err := a.r.Open(i)
		if err != nil {
			return fmt.Errorf("verify %s: %w", e.Path, err)
		}
		_, err = ioutil.CopyWithContext(ctx, io.Discard, rc, nil)
		rc.Close() //nolint:errcheck // read-only
		if err != nil {
			return fmt.Errorf("verify %s: %w", e.Path, err)
		}
	}
	return nil
}

// Extract writes every entry below dir, creating dir if needed.
//
// Entry paths that are absolute or climb out of dir fail with
// ErrInvalidInput, and symlinks inside dir are never followed out of it.
// Files are written to a temp file and renamed into place, so a failed
// extraction never leaves a partial file at an entry path. Special tar
// members such as links and device nodes are not extracted.
func (a *Archive) Extract(ctx context.Context, dir string, opts ...ExtractOption) error {
	cfg := extractConfig{overwrite: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: empty destination directory", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	entries := a.r.Entries()
	total := 0
	for _, e := range entries {
		if !e.Special {
			total++
		}
	}
	var done int
	var doneBytes uint64
	report := func(stage ProgressStage, path string) {
		if cfg.progress != nil {
			cfg.progress(ProgressEvent{Stage: stage, Path: path, FilesDone: done, FilesTotal: total, BytesDone: doneBytes})
		}
	}

	a.log().Info("extracting archive", "dir", dir, "entries", len(entries))
	report(StageExtracting, "")

	var popts []batch.ProcessorOption
	popts = append(popts, batch.WithWorkers(cfg.workers))
	if cfg.progress != nil {
		events := make(chan Entry)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			for e := range events {
				done++
				doneBytes += e.Size
				report(StageExtracting, e.Path)
			}
		}()
		defer func() {
			close(events)
			<-finished
		}()
		popts = append(popts, batch.WithProgress(func(e *Entry) { events <- *e }))
	}

	sink := batch.NewFileSink(root,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveMode(cfg.preserveMode),
		batch.WithPreserveTimes(cfg.preserveTimes),
	)
	p := batch.NewProcessor(a.r.Open, a.cfg.maxFileSize, popts...)
	if err := p.Process(ctx, entries, sink); err != nil {
		a.log().Info("extraction failed", "dir", dir, "error", err)
		return err
	}
	a.log().Debug("extraction finished", "dir", dir)
	return nil
}

// Close releases the archive and any files it opened.
func (a *Archive) Close() error {
	err := a.r.Close()
	if a.closer != nil {
		err = errors.Join(err, a.closer.Close())
	}
	return err
}
