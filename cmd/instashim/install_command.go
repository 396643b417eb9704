package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"instashim/internal/api"
	"instashim/internal/cachestore"
	"instashim/internal/network"
	"instashim/internal/shim"
)

func newInstallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Precache the asset list and activate the new cache",
		Long: "Install fetches every precache asset from the origin and activates the new cache.\n" +
			"When a server is running it is asked to reinstall; otherwise the store is updated directly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return installRemote(cmd, ctx)
			}
			defer func() { _ = lock.Unlock() }()
			return installLocal(cmd, ctx)
		},
	}
}

func installRemote(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	base, err := ctx.serverURL()
	if err != nil {
		return err
	}
	client := api.NewClient(base, cfg.Server.APIToken, nil)
	resp, err := client.Install(cmd.Context())
	if err != nil {
		return wrapConnectError(err, base)
	}
	printInstallResult(cmd.OutOrStdout(), "server", resp.CacheName, resp.Entries, resp.Deleted)
	return nil
}

func installLocal(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.logger(cmd, "install")
	if err != nil {
		return err
	}
	return ctx.withStorage(func(storage *cachestore.Storage) error {
		fetcher, err := network.NewHTTPFetcher(cfg.Server.Origin, nil, cfg.FetchTimeout())
		if err != nil {
			return fmt.Errorf("create origin fetcher: %w", err)
		}
		worker, err := shim.NewFromConfig(cfg, storage, fetcher, logger, nil)
		if err != nil {
			return err
		}
		deleted, err := worker.Reinstall(cmd.Context())
		if err != nil {
			if errors.Is(err, shim.ErrInstallFailed) {
				return fmt.Errorf("%w (is the origin at %s running?)", err, cfg.Server.Origin)
			}
			return err
		}
		status := worker.Status(context.WithoutCancel(cmd.Context()))
		printInstallResult(cmd.OutOrStdout(), "local store", status.CacheName, status.Entries, deleted)
		return nil
	})
}

func printInstallResult(out io.Writer, where, cacheName string, entries int, deleted []string) {
	fmt.Fprintf(out, "Installed %s with %d entries (%s)\n", cacheName, entries, where)
	if len(deleted) > 0 {
		fmt.Fprintf(out, "Deleted stale caches: %s\n", strings.Join(deleted, ", "))
	}
}
