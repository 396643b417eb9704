package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"instashim/internal/cachestore"
	"instashim/internal/precache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the named cache store",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheKeysCommand(ctx))
	cacheCmd.AddCommand(newCacheDeleteCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List named caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manifest, err := precache.FromConfig(cfg)
			if err != nil {
				return err
			}
			return ctx.withStorage(func(storage *cachestore.Storage) error {
				stats, err := storage.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(stats) == 0 {
					fmt.Fprintln(out, "No caches (run `instashim install`)")
					return nil
				}
				rows := make([][]string, 0, len(stats))
				for _, stat := range stats {
					role := "foreign"
					switch {
					case stat.Name == manifest.CacheName():
						role = "current"
					case manifest.Owns(stat.Name):
						role = "stale"
					}
					rows = append(rows, []string{
						stat.Name,
						role,
						strconv.Itoa(stat.Entries),
						humanize.Bytes(uint64(stat.Bytes)),
						humanize.Time(stat.CreatedAt),
					})
				}
				printTable(out, []string{"Name", "Role", "Entries", "Size", "Created"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft})
				return nil
			})
		},
	}
}

func newCacheKeysCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [cache-name]",
		Short: "List the request URLs stored in a cache (defaults to the current cache)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := cacheNameArg(ctx, args)
			if err != nil {
				return err
			}
			return ctx.withStorage(func(storage *cachestore.Storage) error {
				cache, err := storage.Lookup(cmd.Context(), name)
				if errors.Is(err, cachestore.ErrNotFound) {
					return fmt.Errorf("cache %q does not exist", name)
				}
				if err != nil {
					return err
				}
				keys, err := cache.Keys(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, key := range keys {
					fmt.Fprintln(out, key)
				}
				return nil
			})
		},
	}
}

func newCacheDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cache-name>",
		Short: "Delete a named cache and all of its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStorage(func(storage *cachestore.Storage) error {
				existed, err := storage.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintf(cmd.OutOrStdout(), "Cache %s not found\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted cache %s\n", args[0])
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stale caches owned by this application",
		Long: "Clear deletes every cache that shares the configured prefix but is not the current cache.\n" +
			"With --all the current cache and caches of other applications are deleted too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manifest, err := precache.FromConfig(cfg)
			if err != nil {
				return err
			}
			return ctx.withStorage(func(storage *cachestore.Storage) error {
				names, err := storage.Keys(cmd.Context())
				if err != nil {
					return err
				}
				deleted := 0
				for _, name := range names {
					if !all && (name == manifest.CacheName() || !manifest.Owns(name)) {
						continue
					}
					if _, err := storage.Delete(cmd.Context(), name); err != nil {
						return fmt.Errorf("delete %s: %w", name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted cache %s\n", name)
					deleted++
				}
				if deleted == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No caches deleted")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every cache in the store")
	return cmd
}

func cacheNameArg(ctx *commandContext, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return "", err
	}
	manifest, err := precache.FromConfig(cfg)
	if err != nil {
		return "", err
	}
	return manifest.CacheName(), nil
}
