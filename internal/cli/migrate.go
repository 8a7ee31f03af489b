package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/videoflow/notification/internal/infrastructure/postgres"
)

// runMigrations is swapped in tests.
var runMigrations = postgres.Migrate

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				databaseURL = cfg.Database.URL()
			}
			if err := runMigrations(databaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres:// URL (defaults to the configured database)")
	return cmd
}
