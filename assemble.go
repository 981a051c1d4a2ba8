package crate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/meigma/crate/internal/atomicfile"
	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/container"
	"github.com/meigma/crate/internal/directory"
	"github.com/meigma/crate/internal/ioutil"
	"github.com/meigma/crate/internal/volume"
)

const spoolBufSize = 1 << 20

// job describes one archive generation.
type job struct {
	op   string
	mode Mode

	// dest is a path destination; w a stream destination. Exactly one is set.
	dest string
	w    io.Writer

	// collect gathers new inputs, nil when there are none.
	collect func(collect.Options) ([]collect.Source, error)

	// release closes owned inputs when the operation ends before collect
	// ran. Nil when the caller keeps ownership.
	release func()

	// changes are applied to the loaded archive in ModeModify.
	changes map[int]directory.Change
}

// existing is an archive loaded for append or modify.
type existing struct {
	reader  container.Reader
	closer  io.Closer
	size    int64
	volumes int
	closed  bool
}

func (e *existing) Close() error {
	if e == nil || e.closed {
		return nil
	}
	e.closed = true
	err := e.reader.Close()
	if e.closer != nil {
		err = errors.Join(err, e.closer.Close())
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// operation is the state of one run. It is confined to one goroutine.
type operation struct {
	c     *Compressor
	j     *job
	log   *slog.Logger
	start time.Time
	stage ProgressStage

	format     Format
	filesTotal int
	bytesTotal uint64
	filesDone  int
	bytesDone  uint64
	added      int
	copied     int
	written    uint64
	collected  bool
}

// run drives one operation through
// Idle → Validating → Collecting → Encoding → (Splitting) → Finalized,
// entering Failed on any error. Output is spooled and published only after
// every entry was written.
func (c *Compressor) run(ctx context.Context, j *job) (err error) {
	o := &operation{
		c:      c,
		j:      j,
		start:  time.Now(),
		stage:  StageIdle,
		format: c.cfg.format,
	}
	o.log = c.log().With("op", j.op, "op_id", uuid.NewString(), "mode", j.mode.String())
	o.log.Info("archive operation started", "dest", j.dest, "format", c.cfg.format.String())
	defer func() { o.finish(err) }()
	defer func() {
		if !o.collected && j.release != nil {
			j.release()
		}
	}()

	o.enter(StageValidating)
	if err := ctx.Err(); err != nil {
		return err
	}
	if (j.dest == "") == (j.w == nil) {
		return fmt.Errorf("%w: exactly one destination path or writer is required", ErrInvalidInput)
	}
	if j.w != nil && c.cfg.volumeSize > 0 {
		return fmt.Errorf("%w: volumes require a path destination", ErrUnsupportedCombination)
	}
	if j.mode == ModeModify && j.dest == "" {
		if _, ok := j.w.(io.ReadWriteSeeker); !ok {
			return fmt.Errorf("%w: modify needs a seekable stream", ErrUnsupportedCombination)
		}
	}

	o.enter(StageCollecting)
	prev, err := o.loadExisting()
	if err != nil {
		return o.opErr(-1, "", err)
	}
	defer prev.Close() //nolint:errcheck // closed explicitly before publishing

	model, plan, err := o.plan(prev)
	if err != nil {
		return o.opErr(-1, "", err)
	}
	defer model.Release()

	o.enter(StageEncoding)
	spool, err := o.spool()
	if err != nil {
		return o.opErr(-1, "", err)
	}
	defer spool.Abort()

	if err := o.encode(ctx, spool, prev, model, plan); err != nil {
		return err
	}
	if err := prev.Close(); err != nil {
		return o.opErr(-1, "", fmt.Errorf("close existing archive: %w", err))
	}
	if err := o.publish(ctx, spool, prev); err != nil {
		return o.opErr(-1, "", err)
	}
	o.enter(StageFinalized)
	return nil
}

func (o *operation) enter(s ProgressStage) {
	o.log.Debug("state transition", "from", o.stage.String(), "to", s.String())
	o.stage = s
	o.report("")
}

func (o *operation) report(path string) {
	if o.c.cfg.progress == nil {
		return
	}
	o.c.cfg.progress(ProgressEvent{
		Stage:      o.stage,
		Path:       path,
		BytesDone:  o.bytesDone,
		BytesTotal: o.bytesTotal,
		FilesDone:  o.filesDone,
		FilesTotal: o.filesTotal,
	})
}

func (o *operation) opErr(index int, path string, err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: o.j.op, Mode: o.j.mode, Index: index, Path: path, Err: err}
}

func (o *operation) finish(err error) {
	d := time.Since(o.start)
	rec := o.c.recorder
	rec.Operation(o.j.op, o.format.String(), d, err)
	if err != nil {
		if o.stage != StageFailed {
			o.enter(StageFailed)
		}
		o.log.Info("archive operation failed", "stage", o.stage.String(), "duration", d, "error", err)
		return
	}
	rec.Bytes(o.j.op, "read", o.bytesDone)
	rec.Bytes(o.j.op, "written", o.written)
	rec.Entries(o.j.op, "new", o.added)
	rec.Entries(o.j.op, "copied", o.copied)
	o.log.Info("archive operation finished",
		"format", o.format.String(),
		"entries", o.filesDone,
		"new", o.added,
		"copied", o.copied,
		"bytes_in", o.bytesDone,
		"bytes_out", o.written,
		"duration", d,
	)
}

// loadExisting opens the destination for append and modify. It returns
// nil when there is nothing to load: ModeCreate, or ModeAppend on a
// missing or empty destination.
func (o *operation) loadExisting() (*existing, error) {
	j := o.j
	if j.mode == ModeCreate {
		return nil, nil
	}

	var (
		ra      io.ReaderAt
		size    int64
		closer  io.Closer
		volumes int
		name    = j.dest
	)
	switch {
	case j.dest != "":
		info, err := os.Stat(j.dest)
		switch {
		case err == nil && info.IsDir():
			return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidInput, j.dest)
		case err == nil && info.Size() > 0:
			f, err := os.Open(j.dest)
			if err != nil {
				return nil, err
			}
			ra, size, closer = f, info.Size(), f
		case err == nil || errors.Is(err, fs.ErrNotExist):
			paths, derr := volume.Discover(j.dest)
			if derr != nil {
				if j.mode == ModeModify {
					return nil, readError(j.dest, notFound(err))
				}
				return nil, nil
			}
			vr, err := volume.Open(paths)
			if err != nil {
				return nil, readError(j.dest, err)
			}
			ra, size, closer, volumes = vr, vr.Size(), vr, vr.Parts()
		default:
			return nil, err
		}

	default:
		rws, ok := j.w.(io.ReadWriteSeeker)
		if !ok {
			return nil, nil
		}
		name = "stream"
		end, err := rws.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("seek destination: %w", err)
		}
		if end == 0 {
			if j.mode == ModeModify {
				return nil, readError(name, ErrNotAnArchive)
			}
			return nil, nil
		}
		size = end
		if at, ok := rws.(io.ReaderAt); ok {
			ra = at
			break
		}
		sp, err := atomicfile.Spool()
		if err != nil {
			return nil, err
		}
		if _, err := rws.Seek(0, io.SeekStart); err != nil {
			sp.Abort()
			return nil, fmt.Errorf("seek destination: %w", err)
		}
		if _, err := io.Copy(sp, rws); err != nil {
			sp.Abort()
			return nil, fmt.Errorf("read destination: %w", err)
		}
		ra = sp
		closer = closerFunc(func() error { sp.Abort(); return nil })
	}

	r, err := container.NewReader(ra, size, container.ReaderOptions{Password: o.c.cfg.password})
	if err != nil {
		if closer != nil {
			closer.Close() //nolint:errcheck // already failing
		}
		return nil, readError(name, err)
	}
	o.log.Debug("loaded existing archive", "format", r.Format().String(), "entries", len(r.Entries()), "volumes", volumes)
	return &existing{reader: r, closer: closer, size: size, volumes: volumes}, nil
}

func notFound(err error) error {
	if err == nil {
		return ErrNotAnArchive
	}
	return err
}

// plan builds the directory model of the new archive generation.
func (o *operation) plan(prev *existing) (*directory.Model, formatPlan, error) {
	c := o.c
	plan := c.plan
	model := directory.New(plan.format)
	if prev != nil {
		var err error
		if plan, err = c.planFor(prev.reader.Format()); err != nil {
			return nil, plan, err
		}
		if !plan.spec.Update {
			return nil, plan, fmt.Errorf("%w: format %s cannot be updated", ErrUnsupportedCombination, plan.format)
		}
		model = directory.Load(prev.reader, prev.volumes)
	}
	o.format = plan.format

	if o.j.mode == ModeModify {
		next, err := model.Apply(o.j.changes)
		if err != nil {
			return nil, plan, err
		}
		model = next
	}

	if o.j.collect != nil {
		sources, err := o.j.collect(c.collectOptions())
		if err != nil {
			return nil, plan, err
		}
		o.collected = true
		if c.maxFiles > 0 && len(sources) > c.maxFiles {
			collect.CloseAll(sources)
			return nil, plan, fmt.Errorf("%w: %d inputs, limit is %d", ErrTooManyFiles, len(sources), c.maxFiles)
		}
		model = model.AppendSources(sources)
	}
	if err := model.Validate(); err != nil {
		model.Release()
		return nil, plan, err
	}
	if !plan.spec.MultiEntry && model.Len() != 1 {
		model.Release()
		return nil, plan, fmt.Errorf("%w: format %s holds exactly one entry, got %d", ErrUnsupportedCombination, plan.format, model.Len())
	}

	o.filesTotal = model.Len()
	for _, e := range model.Entries() {
		o.bytesTotal += e.Size
	}
	o.log.Debug("planned archive",
		"format", plan.format.String(),
		"method", plan.method.String(),
		"entries", model.Len(),
		"encrypted", c.cfg.encryption != EncryptionNone,
	)
	return model, plan, nil
}

// spool returns the temp file the archive is encoded into. Path
// destinations spool next to the destination so publishing is a rename.
func (o *operation) spool() (*atomicfile.File, error) {
	if o.j.dest != "" {
		return atomicfile.Create(o.j.dest)
	}
	return atomicfile.Spool()
}

func (o *operation) encode(ctx context.Context, out io.Writer, prev *existing, model *directory.Model, plan formatPlan) error {
	c := o.c
	opts := container.WriterOptions{EncryptHeaders: c.cfg.encryptHeaders || model.HeaderEncrypted}
	if c.cfg.encryption != EncryptionNone || opts.EncryptHeaders {
		opts.Password = c.cfg.password
	}

	counter := &ioutil.CountingWriter{W: out}
	bw := bufio.NewWriterSize(counter, spoolBufSize)
	w, err := container.NewWriter(plan.format, bw, opts)
	if err != nil {
		return o.opErr(-1, "", err)
	}

	for i := range model.Items {
		it := &model.Items[i]
		if err := ctx.Err(); err != nil {
			return o.opErr(i, it.Entry.Path, err)
		}
		o.report(it.Entry.Path)

		var e Entry
		if it.Passthrough() {
			e, err = w.Copy(ctx, prev.reader, it.Origin, it.Entry.Path)
			o.copied++
		} else {
			e, err = o.add(ctx, w, it.Source, plan)
			o.added++
		}
		if err != nil {
			return o.opErr(i, it.Entry.Path, err)
		}
		o.filesDone++
		o.bytesDone += e.Size
		o.log.Debug("entry written", "index", i, "path", e.Path, "method", e.Method.String(), "size", e.Size, "packed", e.PackedSize)
	}

	if err := w.Close(); err != nil {
		return o.opErr(-1, "", fmt.Errorf("finish archive: %w", err))
	}
	if err := bw.Flush(); err != nil {
		return o.opErr(-1, "", fmt.Errorf("flush archive: %w", err))
	}
	o.written = counter.N
	return nil
}

func (o *operation) add(ctx context.Context, w container.Writer, src *collect.Source, plan formatPlan) (Entry, error) {
	c := o.c
	h := container.Header{
		Path:       src.Name,
		ModTime:    src.ModTime,
		Mode:       src.Mode,
		Size:       src.Size,
		Method:     plan.method,
		Level:      c.cfg.level,
		Dictionary: plan.dict,
	}
	if plan.method != MethodCopy && plan.spec.Supports(MethodCopy) && collect.ShouldSkip(src, c.cfg.skipCompression) {
		h.Method = MethodCopy
		h.Dictionary = 0
	}

	rc, err := src.Open()
	if err != nil {
		return Entry{}, err
	}
	e, err := w.Add(ctx, h, rc)
	if cerr := rc.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return e, err
}

// publish moves the finished spool to its destination.
func (o *operation) publish(ctx context.Context, spool *atomicfile.File, prev *existing) error {
	j := o.j
	switch {
	case j.dest != "" && o.c.cfg.volumeSize > 0:
		o.enter(StageSplitting)
		//nolint:gosec // counted bytes of a file on disk
		paths, err := volume.WriteParts(j.dest, volume.Split(spool, int64(o.written), o.c.cfg.volumeSize))
		if err != nil {
			return err
		}
		if err := os.Remove(j.dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		o.log.Debug("volumes written", "parts", len(paths))
		return nil

	case j.dest != "":
		if err := spool.Commit(); err != nil {
			return err
		}
		return volume.RemoveFrom(j.dest, 1)

	default:
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return err
		}
		rws, ok := j.w.(io.ReadWriteSeeker)
		if !ok || j.mode == ModeCreate {
			_, err := ioutil.CopyWithContext(ctx, j.w, spool, nil)
			return err
		}
		return rewrite(ctx, rws, spool, o.written, prev)
	}
}

// rewrite replaces the content of a seekable stream.
func rewrite(ctx context.Context, rws io.ReadWriteSeeker, src io.Reader, n uint64, prev *existing) error {
	t, canTruncate := rws.(interface{ Truncate(int64) error })
	if prev != nil && !canTruncate && uint64(prev.size) > n { //nolint:gosec // size of an existing stream
		return fmt.Errorf("%w: stream shrinks from %d to %d bytes but cannot be truncated", ErrUnsupportedCombination, prev.size, n)
	}
	if _, err := rws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := ioutil.CopyWithContext(ctx, rws, src, nil); err != nil {
		return err
	}
	if canTruncate {
		return t.Truncate(int64(n)) //nolint:gosec // counted bytes of a file on disk
	}
	return nil
}
