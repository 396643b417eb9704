package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"instashim/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var runChecks bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			client := api.NewClient(base, cfg.Server.APIToken, nil)

			reqCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			var status *api.ServerStatus
			if runChecks {
				status, err = client.StatusWithChecks(reqCtx)
			} else {
				status, err = client.Status(reqCtx)
			}
			if err != nil {
				return wrapConnectError(err, base)
			}
			if jsonOutput {
				return writeStatusJSON(cmd.OutOrStdout(), status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fprintLines(out, renderSectionHeader("Server", colorize))
			fprintLines(out, []string{
				renderStatusLine("Address", statusOK, fmt.Sprintf("%s (pid %d)", status.Address, status.PID), colorize),
				renderStatusLine("Origin", statusInfo, status.Origin, colorize),
				renderStatusLine("Cache store", statusInfo, status.CacheDBPath, colorize),
			})
			fmt.Fprintln(out)
			fprintLines(out, renderSectionHeader("Offline cache", colorize))
			fprintLines(out, workerLines(status.Worker, colorize))
			fmt.Fprintln(out)
			fprintLines(out, renderSectionHeader("Dependencies", colorize))
			fprintLines(out, dependencyLines(status.Dependencies, colorize))
			if len(status.Checks) > 0 {
				fmt.Fprintln(out)
				fprintLines(out, renderSectionHeader("Checks", colorize))
				fprintLines(out, checkLines(status.Checks, colorize))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status payload")
	cmd.Flags().BoolVar(&runChecks, "checks", false, "Run preflight checks on the server")
	return cmd
}
