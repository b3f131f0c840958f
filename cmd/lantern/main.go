package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "lantern",
		Usage:   "Greedy text generation with chunked prefill",
		Version: version.String(),
		Flags:   append(loggingFlags(), configFlag()),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig(configPath(configFile))
			if err != nil {
				return ctx, err
			}
			applyLoggingConfig(cmd, cfg)

			level := logger.ParseLevel(logLevel)
			if debug {
				level = slog.LevelDebug
			}
			log, err := logger.ForFormat(logFormat, os.Stderr, level)
			if err != nil {
				return ctx, err
			}
			ctx = logger.WithContext(ctx, log)
			return withConfig(ctx, cfg), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			pullCmd(),
			listModelsCmd(),
			versionCmd(),
		},
	}
}

// exitCode maps a failure kind to a process exit status.
func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, inference.ErrInvalidRequest), errors.Is(err, inference.ErrTokenization):
		return 2
	case errors.Is(err, inference.ErrLoadFailure):
		return 3
	case errors.Is(err, inference.ErrCapacityExceeded):
		return 4
	case errors.Is(err, inference.ErrDecodeFailure):
		return 5
	default:
		return 1
	}
}
