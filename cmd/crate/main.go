// Command crate creates, lists, modifies and extracts archives.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel already called
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "crate",
		Usage:     "Create, inspect and modify archives",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "warn",
				Usage:   "Log Level (debug, info, warn, error)",
				Action: func(_ context.Context, _ *cli.Command, s string) error {
					if _, err := zapcore.ParseLevel(s); err != nil {
						return fmt.Errorf("invalid log level %s: %w", s, err)
					}
					return nil
				},
			},
		},
		Commands: []*cli.Command{
			newAddCommand(),
			newListCommand(),
			newExtractCommand(),
			newModifyCommand(),
			newBatchCommand(),
			newVersionCommand(),
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			logger, err := createLogger(command.Bool("debug"), command.String("log-level"))
			if err != nil {
				return ctx, err
			}
			logger.Debug("logger created", zap.String("log_level", command.String("log-level")))
			return withLogger(ctx, logger), nil
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if l := tryLoggers(ctx); l != nil {
				_ = l.zap.Sync()
			}
			return nil
		},
	}
}
