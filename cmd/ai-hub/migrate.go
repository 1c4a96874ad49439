package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(exitCodeFor(runMigrate(cmd.Context())))
	},
}

func init() {
	migrateCmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	_ = migrateCmd.MarkFlagRequired("config")
}

func runMigrate(ctx context.Context) error {
	v, err := newViper()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitConfig)
	}

	logConfig, err := logging.NewConfig(logging.WithViper(v))
	if err != nil {
		return err
	}
	zapLogger, err := logging.NewLogger(logConfig)
	if err != nil {
		return err
	}
	logger := logging.ForZap(zapLogger)

	config, err := database.NewConfig(
		database.WithViper(v),
		database.WithAnotherLog(logger),
	)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	if err := database.Migrate(ctx, config, logger); err != nil {
		logger.WithError(err).Error("migration failed")
		return err
	}
	logger.Info("migrations applied")
	return nil
}
