package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"instashim/internal/launch"
	"instashim/internal/logging"
	"instashim/internal/notifications"
)

func newLaunchCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Run the process manager serving the downloader (container entry command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd, "launch")
			if err != nil {
				return err
			}
			plan, err := launch.NewPlan(cfg)
			if err != nil {
				return err
			}
			plan.Stdout = cmd.OutOrStdout()
			plan.Stderr = cmd.ErrOrStderr()

			statuses, err := launch.Preflight(cfg, logger)
			if dryRun {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, plan.Command())
				for _, status := range statuses {
					fmt.Fprintf(out, "# %s: available=%s %s\n", status.Name, yesNo(status.Available), status.Detail)
				}
				return err
			}
			if err != nil {
				return err
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			runErr := launch.Run(signalCtx, plan, logger)
			if signalCtx.Err() == nil {
				// Nothing asked the process to stop, so even a clean exit means
				// the application is down.
				var reason any = "exit status 0"
				if runErr != nil {
					reason = runErr
				}
				notifier := notifications.NewService(cfg)
				if err := notifier.Publish(cmd.Context(), notifications.EventProcessExited, notifications.Payload{
					"command": plan.Args[0],
					"error":   reason,
				}); err != nil {
					logging.WarnWithContext(logger, "exit notification failed", "notification_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "process exit was not announced"),
					)
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the entry command and dependency status without running it")
	return cmd
}
