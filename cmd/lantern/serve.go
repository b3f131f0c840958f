package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/samcharles93/lantern/internal/api"
	"github.com/samcharles93/lantern/internal/engine"
	"github.com/samcharles93/lantern/internal/logger"
	"github.com/samcharles93/lantern/internal/rpc"
	"github.com/samcharles93/lantern/internal/toy"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		grpcAddr    string
		readTimeout time.Duration
		maxNew      int64
		preload     []string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API, and optionally gRPC",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "grpc-addr",
				Usage:       "gRPC listen address (disabled when empty)",
				Destination: &grpcAddr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Usage:       "default generation budget when a request omits one",
				Value:       engine.DefaultMaxNewTokens,
				Destination: &maxNew,
			},
			&cli.StringSliceFlag{
				Name:        "preload",
				Usage:       "models to load at startup (uses --threads, --ctx-size, --batch-size)",
				Destination: &preload,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, configFrom(ctx), &addr, &grpcAddr, &maxNew)

			reg := engine.NewRegistry(engine.RegistryConfig{
				Backend:   toy.Backend{Log: log},
				ModelsDir: resolveModelsDir(modelsPath),
				ModelExt:  toy.ModelExt,
				Options:   []engine.Option{engine.WithLogger(log)},
			})
			defer func() {
				if err := reg.Close(); err != nil {
					log.Error("release handles", "error", err)
				}
			}()

			for _, name := range preload {
				p := modelParams()
				p.ModelPath = name
				info, err := reg.Load(ctx, p)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: preload %s: %v", name, err), exitCode(err))
				}
				log.Info("model preloaded", "id", info.ID, "model", info.ModelPath)
			}

			g, gctx := errgroup.WithContext(ctx)
			if grpcAddr != "" {
				lis, err := net.Listen("tcp", grpcAddr)
				if err != nil {
					return err
				}
				gs := grpc.NewServer()
				health := rpc.Register(gs, rpc.NewServer(reg, log, int(maxNew)))
				log.Info("starting grpc server", "address", lis.Addr().String())
				g.Go(func() error { return gs.Serve(lis) })
				g.Go(func() error {
					<-gctx.Done()
					health.Shutdown()
					gs.GracefulStop()
					return nil
				})
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(reg, log, int(maxNew)).Register(e)
			log.Info("starting server", "address", addr)
			g.Go(func() error {
				sc := echo.StartConfig{
					Address: addr,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = readTimeout
						return nil
					},
				}
				return sc.Start(gctx, e)
			})
			return g.Wait()
		},
	}
}
