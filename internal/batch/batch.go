// Package batch extracts archive entries through a sink, decoding
// independent entries in parallel.
package batch

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/crate/internal/cratetype"
	"github.com/meigma/crate/internal/ioutil"
	"github.com/meigma/crate/internal/sizing"
)

const (
	// parallelMinAvgBytes is the minimum average entry size to use parallel processing.
	// Below this threshold, serial processing is more efficient due to reduced overhead.
	parallelMinAvgBytes = 64 << 10
)

// Opener returns the decoded, verifying content of entry i.
type Opener func(i int) (io.ReadCloser, error)

// Sink receives extracted entries.
type Sink interface {
	// ShouldProcess reports whether the entry should be extracted.
	ShouldProcess(e *cratetype.Entry) bool

	// Dir materializes a directory entry.
	Dir(e *cratetype.Entry) error

	// Writer returns a destination for a file entry.
	Writer(e *cratetype.Entry) (Committer, error)
}

// Committer is a pending file. Commit publishes it, Discard drops it.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// Processor extracts entries using an Opener.
type Processor struct {
	open        Opener
	maxFileSize uint64
	workers     int // 0 = auto, <0 = serial, >0 = fixed count
	progress    func(e *cratetype.Entry)
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithProgress registers a callback invoked after each entry is committed.
// It may be called from several goroutines.
func WithProgress(fn func(e *cratetype.Entry)) ProcessorOption {
	return func(p *Processor) {
		p.progress = fn
	}
}

// NewProcessor creates a processor. maxFileSize limits the size of
// individual entries (0 for no limit).
func NewProcessor(open Opener, maxFileSize uint64, opts ...ProcessorOption) *Processor {
	p := &Processor{open: open, maxFileSize: maxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process extracts entries into sink. Directories are created first and in
// order; files follow, in parallel when worthwhile. Special entries are
// skipped. Processing stops on the first error.
func (p *Processor) Process(ctx context.Context, entries []cratetype.Entry, sink Sink) error {
	var files []*cratetype.Entry
	for i := range entries {
		e := &entries[i]
		if e.Special || !sink.ShouldProcess(e) {
			continue
		}
		if e.IsDir {
			if err := sink.Dir(e); err != nil {
				return fmt.Errorf("batch: %s: %w", e.Path, err)
			}
			p.report(e)
			continue
		}
		if p.maxFileSize > 0 && e.Size > p.maxFileSize {
			return fmt.Errorf("batch: %s: %w: %d bytes exceeds limit %d", e.Path, cratetype.ErrSizeOverflow, e.Size, p.maxFileSize)
		}
		files = append(files, e)
	}
	if len(files) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount(files))
	for _, e := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processEntry(ctx, e, sink)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// processEntry decodes, verifies, and writes a single entry.
func (p *Processor) processEntry(ctx context.Context, e *cratetype.Entry, sink Sink) error {
	w, err := sink.Writer(e)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", e.Path, err)
	}
	if err := p.copyEntry(ctx, e, w); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", e.Path, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", e.Path, err)
	}
	p.report(e)
	return nil
}

func (p *Processor) copyEntry(ctx context.Context, e *cratetype.Entry, w io.Writer) error {
	rc, err := p.open(e.Index)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = ioutil.CopyWithContext(ctx, w, rc, nil)
	return err
}

func (p *Processor) report(e *cratetype.Entry) {
	if p.progress != nil {
		p.progress(e)
	}
}

// workerCount determines the number of workers to use for processing.
func (p *Processor) workerCount(entries []*cratetype.Entry) int {
	if len(entries) < 2 || p.workers < 0 {
		return 1
	}

	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers < 2 {
			return 1
		}
		// Use size-based heuristic: only parallelize for larger entries
		var total uint64
		for _, e := range entries {
			next, ok := sizing.AddUint64(total, e.Size)
			if !ok {
				total = ^uint64(0)
				break
			}
			total = next
		}
		if total/uint64(len(entries)) < parallelMinAvgBytes {
			return 1
		}
	}
	return min(workers, len(entries))
}
