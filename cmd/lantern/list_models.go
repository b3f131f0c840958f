package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/toy"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List available models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory containing models (env " + envModelsDir + ")",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, configFrom(ctx))

			dir := resolveModelsDir(modelsPath)
			if dir == "" {
				return cli.Exit(fmt.Sprintf("error: --models-path is required unless %s is set", envModelsDir), 2)
			}

			files, err := engine.ModelFiles(dir, toy.ModelExt)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(files) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, path := range files {
				name := engine.TrimExt(filepath.Base(path), toy.ModelExt)
				info, err := os.Stat(path)
				if err != nil {
					fmt.Printf("  %s\n", name)
					continue
				}
				size := formatModelSize(info.Size())

				m, err := toy.LoadManifest(path)
				if err != nil {
					log.Debug("unreadable manifest", "path", path, "error", err)
					fmt.Printf("  %-40s %8s  (invalid)\n", name, size)
					continue
				}
				fmt.Printf("  %-40s %8s  (vocab=%d hidden=%d max_ctx=%d)\n", name, size, len(m.Vocab), m.Hidden, m.MaxContext)
			}
			fmt.Printf("\n%d model(s) found\n", len(files))
			return nil
		},
	}
}

func formatModelSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
