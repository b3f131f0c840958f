package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lantern/internal/engine"
)

var (
	modelPath   string
	modelsPath  string
	threads     int64
	contextSize int64
	batchSize   int64
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model name in --models-path, or a path to a model file",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing models (env " + envModelsDir + ")",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "worker threads for single-token and batch decoding",
			Value:       engine.DefaultThreads,
			Destination: &threads,
		},
		&cli.Int64Flag{
			Name:        "ctx-size",
			Aliases:     []string{"context-size", "c"},
			Usage:       "context capacity in tokens",
			Value:       engine.DefaultContextSize,
			Destination: &contextSize,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "maximum tokens per prefill batch",
			Value:       engine.DefaultBatchSize,
			Destination: &batchSize,
		},
	}
}

func modelParams() engine.Params {
	return engine.Params{
		ModelPath:   modelPath,
		Threads:     int(threads),
		ContextSize: int(contextSize),
		BatchSize:   int(batchSize),
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "config file (env " + envConfig + ")",
		Destination: &configFile,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, console, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
