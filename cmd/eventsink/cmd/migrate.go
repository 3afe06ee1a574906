package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventsink/internal/config"
	"github.com/telhawk-systems/eventsink/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL schema migrations",
	Long:  `Applies the embedded migrations to store.postgres.dsn. Only meaningful for the postgres backend.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Store.Backend != config.BackendPostgres {
			return fmt.Errorf("migrate requires store.backend=%s, got %q", config.BackendPostgres, cfg.Store.Backend)
		}
		if cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("%w: store.postgres.dsn", config.ErrMissing)
		}
		v, err := postgres.Migrate(cfg.Store.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
