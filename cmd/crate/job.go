package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/meigma/crate"
	"github.com/meigma/crate/internal/upload"
	"github.com/meigma/crate/internal/volume"
)

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

// Job describes one archive to build. The add command fills it from flags;
// batch files list several.
type Job struct {
	Name           string      `yaml:"name" validate:"required"`
	Output         string      `yaml:"output" validate:"required"`
	Inputs         []string    `yaml:"inputs" validate:"required,min=1,dive,required"`
	Format         string      `yaml:"format" validate:"omitempty,oneof=crate zip tar gzip"`
	Method         string      `yaml:"method" validate:"omitempty,oneof=default copy deflate lzma lzma2 zstd lz4 s2"`
	Level          string      `yaml:"level" validate:"omitempty,oneof=none fastest fast normal high ultra"`
	Password       string      `yaml:"password"`
	EncryptHeaders bool        `yaml:"encrypt_headers"`
	VolumeSize     int64       `yaml:"volume_size" validate:"gte=0"`
	Append         bool        `yaml:"append"`
	Flatten        bool        `yaml:"flatten"`
	PreserveRoot   bool        `yaml:"preserve_root"`
	Exclude        []string    `yaml:"exclude"`
	Upload         *UploadSpec `yaml:"upload"`
}

// UploadSpec publishes the finished archive to S3.
type UploadSpec struct {
	Bucket         string `yaml:"bucket" validate:"required"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// BatchFile is the document read by the batch command.
type BatchFile struct {
	Concurrency int   `yaml:"concurrency" validate:"gte=0"`
	Jobs        []Job `yaml:"jobs" validate:"required,min=1,unique=Name,dive"`
}

// ParseBatchFile parses a YAML batch document and validates it. Relative
// inputs and outputs are resolved against baseDir.
func ParseBatchFile(data []byte, baseDir string) (BatchFile, error) {
	var bf BatchFile
	if err := yaml.UnmarshalWithOptions(data, &bf, yaml.Strict()); err != nil {
		return BatchFile{}, fmt.Errorf("failed to unmarshal batch file: %w", err)
	}
	if err := defaultValidator.Struct(bf); err != nil {
		return BatchFile{}, fmt.Errorf("failed to validate batch file: %w", formatValidationError(err))
	}
	for i := range bf.Jobs {
		j := &bf.Jobs[i]
		j.Output = resolve(baseDir, j.Output)
		for k, in := range j.Inputs {
			j.Inputs[k] = resolve(baseDir, in)
		}
	}
	return bf, nil
}

func resolve(base, p string) string {
	if base == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation error(s):", len(validationErrs))
	for _, fe := range validationErrs {
		fmt.Fprintf(&sb, "\n  • %s: failed '%s' validation", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			fmt.Fprintf(&sb, " (param: %s)", fe.Param())
		}
	}
	return errors.New(sb.String())
}

// inferFormat picks a format from the output extension.
func inferFormat(output string) crate.Format {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".zip":
		return crate.FormatZip
	case ".tar":
		return crate.FormatTar
	case ".gz", ".gzip":
		return crate.FormatGzip
	default:
		return crate.FormatCrate
	}
}

// options converts the job to compressor options.
func (j *Job) options(log *slog.Logger) ([]crate.Option, error) {
	format := inferFormat(j.Output)
	if j.Format != "" {
		f, ok := crate.ParseFormat(j.Format)
		if !ok {
			return nil, fmt.Errorf("unknown format %q", j.Format)
		}
		format = f
	}

	opts := []crate.Option{
		crate.WithFormat(format),
		crate.WithLogger(log),
		crate.WithDirectoryStructure(!j.Flatten),
		crate.WithPreserveRoot(j.PreserveRoot),
		crate.WithSkipCompression(crate.DefaultSkipCompression(0)),
		crate.WithProgress(func(ev crate.ProgressEvent) {
			if ev.Path == "" {
				log.Debug("stage", "job", j.Name, "stage", ev.Stage.String())
			}
		}),
	}
	if j.Method != "" {
		m, ok := crate.ParseMethod(j.Method)
		if !ok {
			return nil, fmt.Errorf("unknown method %q", j.Method)
		}
		opts = append(opts, crate.WithMethod(m))
	}
	if j.Level != "" {
		l, ok := crate.ParseLevel(j.Level)
		if !ok {
			return nil, fmt.Errorf("unknown level %q", j.Level)
		}
		opts = append(opts, crate.WithLevel(l))
	}
	if j.Password != "" {
		opts = append(opts, crate.WithPassword(j.Password))
	}
	if j.EncryptHeaders {
		opts = append(opts, crate.WithEncryptHeaders(true))
	}
	if j.VolumeSize > 0 {
		opts = append(opts, crate.WithVolumeSize(j.VolumeSize))
	}
	if j.Append {
		opts = append(opts, crate.WithMode(crate.ModeAppend))
	}
	if len(j.Exclude) > 0 {
		opts = append(opts, crate.WithExclude(j.Exclude...))
	}
	return opts, nil
}

// Result summarizes a finished job.
type Result struct {
	Name    string
	Files   []string
	Entries int
	Size    uint64
	URIs    []string
}

// Run builds the archive and uploads it when configured.
func (j *Job) Run(ctx context.Context, log *slog.Logger) (Result, error) {
	log = log.With("job", j.Name)
	opts, err := j.options(log)
	if err != nil {
		return Result{}, err
	}
	c, err := crate.NewCompressor(opts...)
	if err != nil {
		return Result{}, err
	}
	if err := c.CompressFiles(ctx, j.Output, j.Inputs...); err != nil {
		return Result{}, err
	}

	res := Result{Name: j.Name}
	if res.Files, err = outputFiles(j.Output); err != nil {
		return res, err
	}
	for _, f := range res.Files {
		info, err := os.Stat(f)
		if err != nil {
			return res, err
		}
		res.Size += uint64(info.Size()) //nolint:gosec // file sizes are non-negative
	}

	a, err := crate.Open(j.Output, crate.OpenWithPassword(j.Password))
	if err != nil {
		return res, err
	}
	res.Entries = a.Len()
	if err := a.Close(); err != nil {
		return res, err
	}

	if j.Upload != nil {
		pub, err := upload.New(ctx, upload.Config{
			Bucket:         j.Upload.Bucket,
			Prefix:         j.Upload.Prefix,
			Region:         j.Upload.Region,
			Endpoint:       j.Upload.Endpoint,
			ForcePathStyle: j.Upload.ForcePathStyle,
		})
		if err != nil {
			return res, err
		}
		if res.URIs, err = pub.Publish(ctx, res.Files...); err != nil {
			return res, err
		}
		log.Info("archive uploaded", "objects", len(res.URIs))
	}
	return res, nil
}

// outputFiles lists the files an archive was written to: the archive
// itself or its volume parts.
func outputFiles(output string) ([]string, error) {
	if _, err := os.Stat(output); err == nil {
		return []string{output}, nil
	}
	return volume.Discover(output)
}
