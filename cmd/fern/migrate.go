package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/logging"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logger, zapLogger, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
			if err != nil {
				return err
			}
			defer func() { _ = zapLogger.Sync() }()

			conn, err := database.Connect(cmd.Context(), app.DatabaseConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer conn.SQL().Close()

			return app.Migrate(cfg, conn, logger)
		},
	}
}
