package crate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/meigma/crate/internal/codec"
	"github.com/meigma/crate/internal/collect"
	"github.com/meigma/crate/internal/metrics"
)

// Compressor creates and updates archives. It is immutable after
// NewCompressor returns and safe for concurrent use; each call runs as an
// independent operation.
type Compressor struct {
	cfg      config
	plan     formatPlan
	maxFiles int
	recorder *metrics.Recorder
}

// formatPlan is the resolved codec choice for one container format.
type formatPlan struct {
	format Format
	spec   *codec.FormatSpec
	method Method
	dict   uint32
}

// NewCompressor validates the options and returns a Compressor.
//
// Invalid combinations fail here, before any file is touched:
// ErrUnsupportedCombination for illegal format, method, encryption,
// dictionary or volume settings, and ErrMissingPassword when encryption is
// requested without a password.
func NewCompressor(opts ...Option) (*Compressor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.encryptionSet && cfg.password != "" {
		cfg.encryption = EncryptionAES256
	}

	c := &Compressor{cfg: cfg}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if cfg.metrics != nil {
		rec, err := metrics.New(cfg.metrics)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.recorder = rec
	}
	return c, nil
}

func (c *Compressor) validate() error {
	cfg := &c.cfg
	if cfg.mode > ModeModify {
		return fmt.Errorf("%w: unknown mode %d", ErrUnsupportedCombination, cfg.mode)
	}
	if cfg.encryption > EncryptionAES256 {
		return fmt.Errorf("%w: unknown encryption %d", ErrUnsupportedCombination, cfg.encryption)
	}
	if (cfg.encryption != EncryptionNone || cfg.encryptHeaders) && cfg.password == "" {
		return ErrMissingPassword
	}
	if cfg.encryptHeaders && cfg.encryption == EncryptionNone {
		return fmt.Errorf("%w: header encryption requires content encryption", ErrUnsupportedCombination)
	}
	if cfg.volumeSize < 0 || (cfg.volumeSize > 0 && cfg.volumeSize < MinVolumeSize) {
		return fmt.Errorf("%w: volume size %d is below the minimum of %d bytes", ErrUnsupportedCombination, cfg.volumeSize, MinVolumeSize)
	}

	plan, err := c.planFor(cfg.format)
	if err != nil {
		return err
	}
	c.plan = plan

	switch {
	case cfg.maxFiles == 0:
		c.maxFiles = DefaultMaxFiles
	case cfg.maxFiles < 0:
		c.maxFiles = 0
	default:
		c.maxFiles = cfg.maxFiles
	}
	return nil
}

// planFor resolves method and dictionary for format f and checks that the
// configured encryption and mode are legal for it.
func (c *Compressor) planFor(f Format) (formatPlan, error) {
	spec, err := codec.Default.Spec(f)
	if err != nil {
		return formatPlan{}, err
	}
	method, err := codec.Default.Resolve(f, c.cfg.method, c.cfg.level)
	if err != nil {
		return formatPlan{}, err
	}
	dict, err := codec.Default.Dictionary(method, c.cfg.level, c.cfg.dictionary)
	if err != nil {
		return formatPlan{}, err
	}
	if c.cfg.encryption != EncryptionNone && !spec.Encryption {
		return formatPlan{}, fmt.Errorf("%w: format %s cannot encrypt", ErrUnsupportedCombination, f)
	}
	if c.cfg.encryptHeaders && !spec.HeaderEncryption {
		return formatPlan{}, fmt.Errorf("%w: format %s cannot encrypt headers", ErrUnsupportedCombination, f)
	}
	if c.cfg.mode != ModeCreate && !spec.Update {
		return formatPlan{}, fmt.Errorf("%w: format %s cannot be updated", ErrUnsupportedCombination, f)
	}
	return formatPlan{format: f, spec: spec, method: method, dict: dict}, nil
}

// mode is the mode of compress operations. ModeModify without
// modifications is an append.
func (c *Compressor) mode() Mode {
	if c.cfg.mode == ModeModify {
		return ModeAppend
	}
	return c.cfg.mode
}

func (c *Compressor) log() *slog.Logger {
	if c.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.cfg.logger
}

func (c *Compressor) collectOptions() collect.Options {
	return collect.Options{
		DirectoryStructure: c.cfg.directoryStructure,
		PreserveRoot:       c.cfg.preserveRoot,
		Recursive:          c.cfg.recursive,
		Exclude:            c.cfg.exclude,
		MaxFiles:           c.maxFiles,
	}
}

// Format returns the configured container format.
func (c *Compressor) Format() Format {
	return c.cfg.format
}

// Method returns the resolved compression method for the configured format.
func (c *Compressor) Method() Method {
	return c.plan.method
}

// CompressFiles archives the given files and directories into dest.
// Entry names are relative to the common parent directory of all inputs,
// or base names when WithDirectoryStructure(false) is set.
func (c *Compressor) CompressFiles(ctx context.Context, dest string, paths ...string) error {
	return c.run(ctx, &job{
		op:   "compress_files",
		mode: c.mode(),
		dest: dest,
		collect: func(o collect.Options) ([]collect.Source, error) {
			return collect.Files(paths, o)
		},
	})
}

// CompressFilesToWriter is like CompressFiles but writes the archive to w.
// With ModeAppend, w is read and rewritten when it is an io.ReadWriteSeeker.
func (c *Compressor) CompressFilesToWriter(ctx context.Context, w io.Writer, paths ...string) error {
	return c.run(ctx, &job{
		op:   "compress_files",
		mode: c.mode(),
		w:    w,
		collect: func(o collect.Options) ([]collect.Source, error) {
			return collect.Files(paths, o)
		},
	})
}

// CompressDirectory archives the regular files below dir into dest.
func (c *Compressor) CompressDirectory(ctx context.Context, dir, dest string) error {
	return c.run(ctx, &job{
		op:   "compress_directory",
		mode: c.mode(),
		dest: dest,
		collect: func(o collect.Options) ([]collect.Source, error) {
			return collect.Directory(dir, o)
		},
	})
}

// CompressDirectoryToWriter is like CompressDirectory but writes the
// archive to w.
func (c *Compressor) CompressDirectoryToWriter(ctx context.Context, dir string, w io.Writer) error {
	return c.run(ctx, &job{
		op:   "compress_directory",
		mode: c.mode(),
		w:    w,
		collect: func(o collect.Options) ([]collect.Source, error) {
			return collect.Directory(dir, o)
		},
	})
}

// CompressFileMap archives files under explicit names. Keys are archive
// names, values are filesystem paths.
func (c *Compressor) CompressFileMap(ctx context.Context, files map[string]string, dest string) error {
	return c.run(ctx, &job{
		op:   "compress_file_map",
		mode: c.mode(),
		dest: dest,
		collect: func(o collect.Options) ([]collect.Source, error) {
			return collect.FileMap(files, o)
		},
	})
}

// CompressStream archives the content of r as a single entry named by
// WithStreamName and writes the archive to w.
func (c *Compressor) CompressStream(ctx context.Context, r io.Reader, w io.Writer) error {
	return c.run(ctx, &job{
		op:   "compress_stream",
		mode: c.mode(),
		w:    w,
		collect: func(collect.Options) ([]collect.Source, error) {
			return collect.Stream(r, c.cfg.streamName, c.cfg.closeStreams)
		},
		release: c.releaseStreams(r),
	})
}

// CompressReaders archives named streams into dest. Entries are ordered by
// name.
func (c *Compressor) CompressReaders(ctx context.Context, dest string, streams map[string]io.Reader) error {
	return c.run(ctx, &job{
		op:   "compress_readers",
		mode: c.mode(),
		dest: dest,
		collect: func(collect.Options) ([]collect.Source, error) {
			return collect.Readers(streams, c.cfg.closeStreams)
		},
		release: c.releaseStreams(slices.Collect(maps.Values(streams))...),
	})
}

// releaseStreams closes owned streams when an operation fails before they
// were collected.
func (c *Compressor) releaseStreams(streams ...io.Reader) func() {
	if !c.cfg.closeStreams {
		return nil
	}
	return func() {
		for _, r := range streams {
			if cl, ok := r.(io.Closer); ok {
				cl.Close() //nolint:errcheck // best-effort cleanup
			}
		}
	}
}
