package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newPruneCmd creates the 'prune' subcommand, which enforces artifact retention.
func newPruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Deletes all but the newest artifacts of every resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 1 {
				return fmt.Errorf("--keep must be at least 1")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				removed, err := a.Prune(ctx, keep)
				if err != nil {
					return err
				}
				a.Logger().Info("artifacts pruned", zap.Int("removed", removed), zap.Int("keep", keep))
				return printJSON(cmd, map[string]int{"removed": removed})
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 2, "artifacts to keep per resource")
	return cmd
}
