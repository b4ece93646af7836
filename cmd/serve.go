package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-tracker/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which hosts the read-only API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the read-only HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				port := a.Config().Server.Port
				srv := &http.Server{
					Addr:              fmt.Sprintf(":%d", port),
					Handler:           a.Server().Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					a.Logger().Info("http server started", zap.Int("port", port))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
					close(errCh)
				}()

				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("http server: %w", err)
					}
					return nil
				case <-ctx.Done():
				}
				a.Logger().Info("shutdown initiated")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("server shutdown: %w", err)
				}
				return nil
			})
		},
	}
}
