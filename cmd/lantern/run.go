package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/inference"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/logits"
	"github.com/samcharles93/lantern/internal/toy"
	"github.com/samcharles93/lantern/internal/trace"
)

func runCmd() *cli.Command {
	var (
		prompt     string
		maxNew     int64
		temp       float64
		traceOut   string
		showStats  bool
		echoPrompt bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text from a prompt, or interactively when no prompt is given",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       "maximum tokens to generate",
				Value:       engine.DefaultMaxNewTokens,
				Destination: &maxNew,
			},
			&cli.Float64Flag{
				Name:        "temperature",
				Aliases:     []string{"temp"},
				Usage:       "sampling temperature (accepted; decoding is greedy)",
				Value:       engine.DefaultTemperature,
				Destination: &temp,
			},
			&cli.StringFlag{
				Name:        "trace-out",
				Usage:       "write every decoded batch to an Arrow IPC file",
				Destination: &traceOut,
			},
			&cli.BoolFlag{
				Name:        "show-stats",
				Usage:       "print generation statistics to stderr",
				Value:       true,
				Destination: &showStats,
			},
			&cli.BoolFlag{
				Name:        "echo-prompt",
				Usage:       "print prompt text before generation",
				Destination: &echoPrompt,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(c, configFrom(ctx), &maxNew, &temp)

			path, err := resolveRunModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), exitCode(err))
			}

			opts := []engine.Option{engine.WithLogger(log)}
			var rec *trace.Recorder
			if traceOut != "" {
				opts = append(opts, engine.WithEngineWrapper(func(inner inference.InferenceEngine) inference.InferenceEngine {
					rec = trace.NewRecorder(inner)
					return rec
				}))
			}

			p := modelParams()
			p.ModelPath = path
			loadStart := time.Now()
			h, err := engine.Initialize(ctx, toy.Backend{Log: log}, p, opts...)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), exitCode(err))
			}
			defer func() { _ = h.Release() }()
			log.Info("model loaded", "path", path, "took", time.Since(loadStart))

			if rec != nil {
				defer func() {
					if err := rec.WriteFile(traceOut); err != nil {
						log.Error("write trace", "path", traceOut, "error", err)
						return
					}
					log.Info("trace written", "path", traceOut, "rows", len(rec.Rows()))
				}()
			}

			r := &runner{
				h:         h,
				log:       log,
				out:       os.Stdout,
				stats:     os.Stderr,
				maxNew:    int(maxNew),
				temp:      temp,
				showStats: showStats,
			}

			if prompt != "" {
				if echoPrompt {
					fmt.Print(prompt)
				}
				if err := r.generate(ctx, prompt); err != nil {
					return cli.Exit(fmt.Sprintf("error: generation: %v", err), exitCode(err))
				}
				return nil
			}
			return r.interactive(ctx, os.Stdin)
		},
	}
}

type runner struct {
	h         *engine.Handle
	log       logger.Logger
	out       io.Writer
	stats     io.Writer
	maxNew    int
	temp      float64
	showStats bool
}

func (r *runner) generate(ctx context.Context, prompt string) error {
	req := &inference.Request{
		Prompt:       prompt,
		MaxNewTokens: r.maxNew,
		Sampling:     logits.Params{Temperature: r.temp},
	}
	res, err := r.h.Generate(ctx, req, func(piece string) {
		_, _ = io.WriteString(r.out, piece)
	})
	_, _ = fmt.Fprintln(r.out)
	if err != nil {
		return err
	}
	if res.DecodeErr != nil {
		r.log.Warn("decode failed, output truncated", "error", res.DecodeErr)
	}
	if r.showStats {
		s := res.Stats
		_, _ = fmt.Fprintf(r.stats, "stop=%s prompt=%d generated=%d prefill_batches=%d prefill=%s total=%s %.2f tok/s\n",
			res.StopReason, s.PromptTokens, s.TokensGenerated, s.PrefillBatches,
			s.PrefillDuration.Round(time.Microsecond), s.Duration.Round(time.Microsecond), s.TPS)
	}
	return nil
}

func (r *runner) interactive(ctx context.Context, in io.Reader) error {
	_, _ = fmt.Fprintln(r.stats, "Interactive mode. Type /exit to quit.")
	scanner := bufio.NewScanner(in)
	for {
		if stdinIsTTY() {
			_, _ = fmt.Fprint(r.out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "/exit" {
			return nil
		}
		if input == "" {
			continue
		}
		err := r.generate(ctx, input)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, inference.ErrTokenization), errors.Is(err, inference.ErrCapacityExceeded):
			// the handle is still usable
			_, _ = fmt.Fprintln(r.stats, "error:", err)
		default:
			return cli.Exit(fmt.Sprintf("error: generation: %v", err), exitCode(err))
		}
	}
}
