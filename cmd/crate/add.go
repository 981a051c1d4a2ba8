package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
)

func newAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create an archive, or append to one",
		ArgsUsage: "<archive> <paths...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Container format (crate, zip, tar, gzip); inferred from the archive extension when unset"},
			&cli.StringFlag{Name: "method", Aliases: []string{"m"}, Usage: "Compression method (copy, deflate, lzma, lzma2, zstd, lz4, s2)"},
			&cli.StringFlag{Name: "level", Usage: "Compression level (none, fastest, fast, normal, high, ultra)"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Encrypt entries with this password", Sources: cli.EnvVars("CRATE_PASSWORD")},
			&cli.BoolFlag{Name: "encrypt-headers", Usage: "Encrypt entry names and metadata as well (crate only)"},
			&cli.Int64Flag{Name: "volume-size", Usage: "Split the archive into parts of at most this many bytes"},
			&cli.BoolFlag{Name: "append", Aliases: []string{"a"}, Usage: "Append to an existing archive"},
			&cli.BoolFlag{Name: "flatten", Usage: "Store base names only"},
			&cli.BoolFlag{Name: "preserve-root", Usage: "Keep the name of input directories as the top path segment"},
			&cli.StringSliceFlag{Name: "exclude", Aliases: []string{"x"}, Usage: "Exclude paths matching a pattern (can be repeated)"},
			&cli.StringFlag{Name: "upload-bucket", Usage: "Upload the archive to this S3 bucket"},
			&cli.StringFlag{Name: "upload-prefix", Usage: "Key prefix for uploaded objects"},
			&cli.StringFlag{Name: "upload-region", Usage: "S3 region", Sources: cli.EnvVars("AWS_REGION")},
			&cli.StringFlag{Name: "upload-endpoint", Usage: "S3 compatible endpoint URL"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() < 2 {
				return errors.New("usage: crate add <archive> <paths...>")
			}
			archive := command.Args().First()
			job := Job{
				Name:           filepath.Base(archive),
				Output:         archive,
				Inputs:         command.Args().Tail(),
				Format:         strings.ToLower(command.String("format")),
				Method:         strings.ToLower(command.String("method")),
				Level:          strings.ToLower(command.String("level")),
				Password:       command.String("password"),
				EncryptHeaders: command.Bool("encrypt-headers"),
				VolumeSize:     command.Int64("volume-size"),
				Append:         command.Bool("append"),
				Flatten:        command.Bool("flatten"),
				PreserveRoot:   command.Bool("preserve-root"),
				Exclude:        command.StringSlice("exclude"),
			}
			if bucket := command.String("upload-bucket"); bucket != "" {
				job.Upload = &UploadSpec{
					Bucket:   bucket,
					Prefix:   command.String("upload-prefix"),
					Region:   command.String("upload-region"),
					Endpoint: command.String("upload-endpoint"),
				}
			}
			if err := defaultValidator.Struct(job); err != nil {
				return formatValidationError(err)
			}

			res, err := job.Run(ctx, getLogger(ctx))
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", archive, err)
			}
			printResult(newPrinter(command.Root().Writer), res)
			return nil
		},
	}
}

func printResult(p *printer, res Result) {
	where := res.Files[0]
	if len(res.Files) > 1 {
		where = fmt.Sprintf("%s (%d volumes)", where, len(res.Files))
	}
	p.ok("%s: %d entries, %s", where, res.Entries, p.cyan(humanBytes(res.Size)))
	for _, uri := range res.URIs {
		p.info("  %s %s", p.gray("uploaded"), uri)
	}
}
