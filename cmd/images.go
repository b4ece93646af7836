package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newImagesCmd creates the 'images' subcommand, which downloads the photos of
// Active offers into the artifact store.
func newImagesCmd() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Downloads images of Active offers that were not fetched yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, ok := a.Config().Site.StartURLs[entity]; !ok {
					return fmt.Errorf("unknown entity %q", entity)
				}
				res, err := a.Images().Run(ctx, entity)
				if err != nil {
					return fmt.Errorf("download images for %s: %w", entity, err)
				}
				a.Logger().Info("image download finished", zap.String("entity", entity), zap.Int("stored", res.Stored))
				return printJSON(cmd, map[string]any{"entity": entity, "result": res})
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "houses", "entity whose offer images are downloaded")
	return cmd
}
