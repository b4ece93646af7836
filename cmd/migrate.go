package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-tracker/internal/storage/postgres"
)

// newMigrateCmd creates the 'migrate' subcommand, which applies the schema.
func newMigrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Applies database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to run migrations")
			}
			steps := 0
			if down > 0 {
				steps = -down
			}
			return postgres.Migrate(e.cfg.DB.DSN, steps, e.logger.Named("migrate"))
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying pending ones")
	return cmd
}
