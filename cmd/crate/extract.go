package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/meigma/crate"
)

func newExtractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Aliases:   []string{"x"},
		Usage:     "Extract an archive into a directory",
		ArgsUsage: "<archive> <dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Archive password", Sources: cli.EnvVars("CRATE_PASSWORD")},
			&cli.BoolFlag{Name: "overwrite", Value: true, Usage: "Replace existing files"},
			&cli.BoolFlag{Name: "preserve-mode", Usage: "Apply stored permission bits"},
			&cli.BoolFlag{Name: "preserve-times", Usage: "Apply stored modification times"},
			&cli.IntFlag{Name: "workers", Usage: "Parallel decoders; 0 picks automatically, negative disables parallelism"},
			&cli.Int64Flag{Name: "max-file-size", Usage: "Refuse entries larger than this many bytes (0 means no limit)"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 2 {
				return errors.New("usage: crate extract <archive> <dir>")
			}
			if command.Int64("max-file-size") < 0 {
				return errors.New("max-file-size must not be negative")
			}
			log := getLogger(ctx)
			a, err := crate.Open(command.Args().Get(0),
				crate.OpenWithPassword(command.String("password")),
				crate.OpenWithLogger(log),
				crate.OpenWithMaxFileSize(uint64(command.Int64("max-file-size"))),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			dir := command.Args().Get(1)
			err = a.Extract(ctx, dir,
				crate.ExtractWithOverwrite(command.Bool("overwrite")),
				crate.ExtractWithPreserveMode(command.Bool("preserve-mode")),
				crate.ExtractWithPreserveTimes(command.Bool("preserve-times")),
				crate.ExtractWithWorkers(command.Int("workers")),
				crate.ExtractWithProgress(func(ev crate.ProgressEvent) {
					if ev.Path != "" {
						log.Debug("extracted", "path", ev.Path, "done", ev.FilesDone, "total", ev.FilesTotal)
					}
				}),
			)
			if err != nil {
				return err
			}
			newPrinter(command.Root().Writer).ok("extracted %d entries to %s", a.Len(), dir)
			return nil
		},
	}
}
