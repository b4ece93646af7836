package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newNotifyCmd creates the 'notify' subcommand, which runs one watchdog pass.
func newNotifyCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Sends notifications about recently stored offers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				w, closeFn, err := a.Watchdog(ctx)
				if err != nil {
					return fmt.Errorf("init watchdog: %w", err)
				}
				defer closeFn()
				window := since
				if window <= 0 {
					window = a.Config().Notify.Window
				}
				res, err := w.Run(ctx, window)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "window of stored offers to consider (default notify.window)")
	return cmd
}
