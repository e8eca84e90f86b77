package main

import (
	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/researchd/internal/server"
)

func migrateCMD(load configLoader) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			if err := srv.Migrate(migDir, dsn, direction, steps); err != nil {
				return err
			}
			cmd.Printf("migrations %s applied\n", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", srv.DefaultMigrationsDir, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
