package crate

import "log/slog"

type openConfig struct {
	password    string
	logger      *slog.Logger
	maxFileSize uint64
}

// OpenOption configures Open, OpenVolumes and OpenReader.
type OpenOption func(*openConfig)

// OpenWithPassword sets the password for encrypted entries and headers.
func OpenWithPassword(password string) OpenOption {
	return func(c *openConfig) {
		c.password = password
	}
}

// OpenWithLogger sets the logger. Defaults to discarding all output.
func OpenWithLogger(logger *slog.Logger) OpenOption {
	return func(c *openConfig) {
		c.logger = logger
	}
}

// OpenWithMaxFileSize limits the size of entries read by ReadFile and
// Extract. Zero means no limit.
func OpenWithMaxFileSize(n uint64) OpenOption {
	return func(c *openConfig) {
		c.maxFileSize = n
	}
}

type extractConfig struct {
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	workers       int
	progress      ProgressFunc
}

// ExtractOption configures Archive.Extract.
type ExtractOption func(*extractConfig)

// ExtractWithOverwrite controls whether existing files are replaced.
// Defaults to true; when false existing files are left alone.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveMode applies the recorded permission bits.
func ExtractWithPreserveMode(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveMode = preserve
	}
}

// ExtractWithPreserveTimes applies the recorded modification times.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers sets the number of entries decoded in parallel.
// Values < 0 force serial extraction. Zero picks automatically.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithProgress reports StageExtracting events as entries complete.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}
