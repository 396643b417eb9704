package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"instashim/internal/metrics"
	"instashim/internal/network"
	"instashim/internal/server"
	"instashim/internal/shim"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline cache front server",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd, "server")
			if err != nil {
				return err
			}
			storage, err := ctx.openStorage()
			if err != nil {
				return err
			}
			defer storage.Close()

			fetcher, err := network.NewHTTPFetcher(cfg.Server.Origin, nil, cfg.FetchTimeout())
			if err != nil {
				return fmt.Errorf("create origin fetcher: %w", err)
			}
			m := metrics.New()
			worker, err := shim.NewFromConfig(cfg, storage, fetcher, logger, m)
			if err != nil {
				return err
			}
			srv, err := server.New(cfg, worker, m, logger)
			if err != nil {
				return err
			}
			return srv.Run(signalCtx)
		},
	}
}
