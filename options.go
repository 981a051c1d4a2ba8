package crate

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/crate/internal/collect"
)

// DefaultMaxFiles is the default limit used when no MaxFiles option is set.
const DefaultMaxFiles = 200_000

// MinVolumeSize is the smallest accepted volume size in bytes.
const MinVolumeSize = 64

// config holds the compressor configuration. It is never modified after
// NewCompressor returns.
type config struct {
	format             Format
	method             Method
	level              Level
	dictionary         uint32
	encryption         Encryption
	encryptionSet      bool
	encryptHeaders     bool
	password           string
	volumeSize         int64
	mode               Mode
	directoryStructure bool
	preserveRoot       bool
	recursive          bool
	exclude            []string
	skipCompression    []SkipCompressionFunc
	streamName         string
	closeStreams       bool
	logger             *slog.Logger
	progress           ProgressFunc
	metrics            prometheus.Registerer
	maxFiles           int
}

func defaultConfig() config {
	return config{
		format:             FormatCrate,
		directoryStructure: true,
		recursive:          true,
		streamName:         collect.DefaultStreamName,
	}
}

// Option configures a Compressor.
type Option func(*config)

// WithFormat sets the container format. Defaults to FormatCrate.
func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
	}
}

// WithMethod sets the compression method. MethodDefault selects the
// format default: LZMA2 for crate, Deflate for zip and gzip, Copy for tar.
func WithMethod(m Method) Option {
	return func(c *config) {
		c.method = m
	}
}

// WithLevel sets the compression level. LevelNone stores entries
// uncompressed when the format allows it.
func WithLevel(l Level) Option {
	return func(c *config) {
		c.level = l
	}
}

// WithDictionarySize overrides the dictionary (LZMA, LZMA2) or window
// (zstd) size in bytes. Zero derives it from the level.
func WithDictionarySize(n uint32) Option {
	return func(c *config) {
		c.dictionary = n
	}
}

// WithEncryption sets the content encryption method. A password set with
// WithPassword implies EncryptionAES256 unless this option says otherwise.
func WithEncryption(e Encryption) Option {
	return func(c *config) {
		c.encryption = e
		c.encryptionSet = true
	}
}

// WithEncryptHeaders encrypts entry names and metadata. Only the crate
// format supports it, and it requires a password.
func WithEncryptHeaders(enabled bool) Option {
	return func(c *config) {
		c.encryptHeaders = enabled
	}
}

// WithPassword sets the password used to encrypt new entries and to read
// encrypted archives during append and modify.
func WithPassword(password string) Option {
	return func(c *config) {
		c.password = password
	}
}

// WithVolumeSize splits path destinations into numbered parts of at most
// n bytes (dest.001, dest.002, ...). Zero disables splitting.
func WithVolumeSize(n int64) Option {
	return func(c *config) {
		c.volumeSize = n
	}
}

// WithMode selects how an existing destination is treated. ModeAppend
// keeps the entries of an existing archive and adds new ones after them.
func WithMode(m Mode) Option {
	return func(c *config) {
		c.mode = m
	}
}

// WithDirectoryStructure keeps relative paths as entry names. When false,
// entries are named by their base name and collisions are an error.
// Defaults to true.
func WithDirectoryStructure(keep bool) Option {
	return func(c *config) {
		c.directoryStructure = keep
	}
}

// WithPreserveRoot prefixes entries from CompressDirectory with the name
// of the directory itself.
func WithPreserveRoot(preserve bool) Option {
	return func(c *config) {
		c.preserveRoot = preserve
	}
}

// WithRecursive controls whether directory inputs are walked recursively.
// Defaults to true.
func WithRecursive(recursive bool) Option {
	return func(c *config) {
		c.recursive = recursive
	}
}

// WithExclude adds .dockerignore style patterns. Matching files and
// directories below a walked directory are skipped.
func WithExclude(patterns ...string) Option {
	return func(c *config) {
		c.exclude = append(c.exclude, patterns...)
	}
}

// WithSkipCompression adds predicates that decide to store an input
// uncompressed. If any predicate returns true, compression is skipped for
// that input when the format can store entries.
func WithSkipCompression(fns ...SkipCompressionFunc) Option {
	return func(c *config) {
		c.skipCompression = append(c.skipCompression, fns...)
	}
}

// WithStreamName sets the entry name used by CompressStream.
// Defaults to "stream".
func WithStreamName(name string) Option {
	return func(c *config) {
		c.streamName = name
	}
}

// WithCloseStreams hands ownership of the readers given to CompressStream
// and CompressReaders to the compressor. Readers that implement io.Closer
// are closed when the operation ends, whether it succeeds or not.
func WithCloseStreams(enabled bool) Option {
	return func(c *config) {
		c.closeStreams = enabled
	}
}

// WithLogger sets the logger. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithProgress sets a callback that receives state transitions and
// per-entry progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithMetrics registers operation metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.metrics = reg
	}
}

// WithMaxFiles limits the number of new inputs per operation.
// Zero uses DefaultMaxFiles. Negative means no limit.
func WithMaxFiles(n int) Option {
	return func(c *config) {
		c.maxFiles = n
	}
}
