package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func newBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Build every archive listed in a YAML batch file",
		ArgsUsage: "<jobs.yaml>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"j"}, Usage: "Jobs run at once; overrides the file, 0 uses the file or the CPU count"},
			&cli.BoolFlag{Name: "validate-only", Usage: "Check the batch file without running it"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return errors.New("usage: crate batch <jobs.yaml>")
			}
			name := command.Args().First()
			data, err := os.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read batch file: %w", err)
			}
			bf, err := ParseBatchFile(data, filepath.Dir(name))
			if err != nil {
				return err
			}

			p := newPrinter(command.Root().Writer)
			if command.Bool("validate-only") {
				p.ok("batch file '%s' is valid (%d jobs)", name, len(bf.Jobs))
				return nil
			}
			limit := command.Int("concurrency")
			if limit <= 0 {
				limit = bf.Concurrency
			}
			if limit <= 0 {
				limit = runtime.NumCPU()
			}
			return runBatch(ctx, p, bf.Jobs, limit)
		},
	}
}

// runBatch runs jobs with at most limit in flight. Every job runs to
// completion; failures are reported and joined.
func runBatch(ctx context.Context, p *printer, jobs []Job, limit int) error {
	log := getLogger(ctx)
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			res, err := job.Run(gctx, log)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.fail("%s: %v", job.Name, err)
				errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
				return nil
			}
			printResult(p, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(errs) > 0 {
		p.info("%s", p.yellow(fmt.Sprintf("%d of %d jobs failed", len(errs), len(jobs))))
	}
	return errors.Join(errs...)
}
