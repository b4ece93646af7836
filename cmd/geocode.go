package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newGeocodeCmd creates the 'geocode' subcommand, which runs the geocoding
// stage on its own.
func newGeocodeCmd() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Derives addresses for Active offers with coordinates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !a.Config().Geocode.Enabled {
					return errors.New("geocode.enabled is false")
				}
				res, err := a.Orchestrator().Geocode(ctx, entity)
				a.Logger().Info("geocoding finished",
					zap.String("entity", entity),
					zap.Int("stored", res.Stored),
					zap.Int("unresolved", res.Unresolved),
					zap.Int("failed", res.Failed),
				)
				if err != nil {
					return fmt.Errorf("geocode %s: %w", entity, err)
				}
				return printJSON(cmd, map[string]any{"entity": entity, "result": res})
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "houses", "entity whose offers are geocoded")
	return cmd
}
