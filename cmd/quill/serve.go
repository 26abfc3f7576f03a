package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quill/internal/api"
	"github.com/samcharles93/quill/internal/hub"
	"github.com/samcharles93/quill/internal/logger"
	"github.com/samcharles93/quill/internal/prompt"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		hubURL      string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the prompt rendering REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "hub-url",
				Usage:       "template catalog base URL",
				Destination: &hubURL,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyConfig(cmd, cfg, &hubURL, &addr)

			level := logger.ParseLevel(cfg.LogLevel)
			log := logger.Text(os.Stderr, level)
			if cfg.LogFormat == "json" {
				log = logger.JSON(os.Stderr, level)
			}

			renderer := &prompt.Renderer{Hub: &hub.Client{BaseURL: hubURL}}
			server := api.NewServer(renderer)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
