package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand, which executes one run.
func newCrawlCmd() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl for an entity",
		Long: `Discovers the entity's listing pages, reconciles the resource registry,
downloads every pending resource page and parses the stored pages into offer
versions. The run is recorded in the ledger whether it succeeds or not.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Orchestrator().Run(ctx, entity)
				a.Logger().Info("crawl finished",
					zap.String("run_id", report.RunID),
					zap.Bool("success", report.Success),
				)
				if report.RunID != "" {
					if encErr := printJSON(cmd, report); encErr != nil {
						return encErr
					}
				}
				if err != nil {
					return fmt.Errorf("run %s: %w", entity, err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "houses", "entity to crawl, as named in site.start_urls")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
