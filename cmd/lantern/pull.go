package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lantern/internal/download"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/toy"
)

func pullCmd() *cli.Command {
	var (
		name  string
		force bool
	)

	return &cli.Command{
		Name:      "pull",
		Usage:     "Download a model into the models directory",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory to download into (env " + envModelsDir + ")",
				Destination: &modelsPath,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "model name to save as (defaults to the URL's file name)",
				Destination: &name,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "overwrite an existing model",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, configFrom(ctx))

			src := strings.TrimSpace(cmd.Args().First())
			if src == "" {
				return cli.Exit("error: pull requires a URL", 2)
			}
			dir := resolveModelsDir(modelsPath)
			if dir == "" {
				return cli.Exit(fmt.Sprintf("error: --models-path is required unless %s is set", envModelsDir), 2)
			}
			dest, err := pullDestination(dir, src, name)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 2)
			}
			if _, err := os.Stat(dest); err == nil && !force {
				return cli.Exit(fmt.Sprintf("error: %s already exists (use --force to overwrite)", dest), 1)
			}

			log.Info("downloading model", "url", src, "dest", dest)
			err = download.Fetch(ctx, src, dest, download.Options{
				Progress: func(pct int) {
					_, _ = fmt.Fprintf(os.Stderr, "\rpull: %3d%%", pct)
					if pct == 100 {
						_, _ = fmt.Fprintln(os.Stderr)
					}
				},
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			m, err := toy.LoadManifest(dest)
			if err != nil {
				_ = os.Remove(dest)
				return cli.Exit(fmt.Sprintf("error: downloaded file is not a valid model: %v", err), 3)
			}
			log.Info("model ready", "name", m.Name, "path", dest, "vocab", len(m.Vocab))
			return nil
		},
	}
}

// pullDestination picks the file a download is saved to.
func pullDestination(dir, src, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		u, err := url.Parse(src)
		if err != nil {
			return "", err
		}
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		return "", errors.New("cannot derive a model name from the URL; set --name")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid model name %q", name)
	}
	if !strings.HasSuffix(strings.ToLower(name), toy.ModelExt) {
		name += toy.ModelExt
	}
	return filepath.Join(dir, name), nil
}
