package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-healthgate/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the aggregate health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gw, err := build(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to build health gateway", "error", err)
				return err
			}
			defer gw.Close()

			router := server.NewRouter(gw.handler, gw.registry, logger)
			return server.Run(ctx, cfg.Listen, router, cfg.ShutdownTimeout, logger)
		},
	}
}
