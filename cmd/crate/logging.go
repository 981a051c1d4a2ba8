package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggerCtxKey struct{}

type loggers struct {
	zap  *zap.Logger
	slog *slog.Logger
}

// slogDebug is the zap level slog debug records arrive at through zapr.
const slogDebug = zapcore.Level(slog.LevelDebug)

func createLogger(debug bool, logLevel string) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", logLevel, err)
	}

	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		level.SetLevel(slogDebug)
	} else {
		cfg = zap.NewProductionConfig()
		if level.Level() == zapcore.DebugLevel {
			level.SetLevel(slogDebug)
		}
	}
	cfg.Level = level

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Named("crate"), nil
}

// toSlog bridges a zap logger to the slog API the library logs through.
func toSlog(z *zap.Logger) *slog.Logger {
	return slog.New(logr.ToSlogHandler(zapr.NewLogger(z)))
}

func withLogger(ctx context.Context, z *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, &loggers{zap: z, slog: toSlog(z)})
}

func tryLoggers(ctx context.Context) *loggers {
	l, _ := ctx.Value(loggerCtxKey{}).(*loggers)
	return l
}

// getLogger returns the slog logger stored by the root command, or a
// discarding logger when none is set.
func getLogger(ctx context.Context) *slog.Logger {
	if l := tryLoggers(ctx); l != nil {
		return l.slog
	}
	return slog.New(slog.DiscardHandler)
}
