package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vendalink/vendalink/internal/config"
	"github.com/vendalink/vendalink/internal/db"
	"github.com/vendalink/vendalink/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vendalink",
		Short: "WhatsApp-driven sales CRM ingestion and analysis pipeline",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and analysis pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			if err := db.Migrate(cfg.Postgres); err != nil {
				return err
			}
			logger.L.Info("migrations applied")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
