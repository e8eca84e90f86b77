package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/researchd/config"
	srv "github.com/mohammad-safakhou/researchd/internal/server"
)

func serveCMD(load configLoader) *cobra.Command {
	var addr string
	var runMigrations bool
	var migDir string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := load()
			if err != nil {
				return err
			}
			if runMigrations && cfg.Storage.Postgres.Configured() {
				dsn, err := cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
				if err := srv.Migrate(migDir, dsn, "up", 0); err != nil {
					return err
				}
			}
			c, err := buildContainer(ctx, func() (*config.Config, error) { return cfg, nil })
			if err != nil {
				return err
			}
			defer c.Close()

			if addr == "" {
				addr = cfg.Server.Address
			}
			c.Logger.Info("starting researchd", zap.String("addr", addr), zap.Bool("llm", cfg.LLM.Enabled()), zap.String("supervisor", cfg.Workflow.Supervisor))
			return c.Server().Start(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&runMigrations, "migrate", false, "apply migrations before serving")
	serve.Flags().StringVar(&migDir, "migrations", srv.DefaultMigrationsDir, "migrations source")
	return serve
}
