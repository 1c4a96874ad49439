package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/database"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/errs"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

var exportFlags struct {
	tenant     string
	featureSet string
	start      string
	end        string
	assets     []string
}

var exportFeaturesCmd = &cobra.Command{
	Use:   "export-features",
	Short: "Run a one-shot feature export to parquet and exit",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(exitCodeFor(runExportFeatures(cmd.Context())))
	},
}

func init() {
	exportFeaturesCmd.Flags().StringVarP(&configFilePath, "config", "c", "", "path to config file")
	exportFeaturesCmd.Flags().StringVar(&exportFlags.tenant, "tenant", "", "tenant id")
	exportFeaturesCmd.Flags().StringVar(&exportFlags.featureSet, "feature-set", "forecast_basic", "feature set to export")
	exportFeaturesCmd.Flags().StringVar(&exportFlags.start, "start", "", "window start (RFC 3339)")
	exportFeaturesCmd.Flags().StringVar(&exportFlags.end, "end", "", "window end (RFC 3339)")
	exportFeaturesCmd.Flags().StringSliceVar(&exportFlags.assets, "asset", nil, "restrict to asset ids (repeatable)")
	_ = exportFeaturesCmd.MarkFlagRequired("config")
	_ = exportFeaturesCmd.MarkFlagRequired("tenant")
	_ = exportFeaturesCmd.MarkFlagRequired("start")
	_ = exportFeaturesCmd.MarkFlagRequired("end")
}

func runExportFeatures(ctx context.Context) error {
	const op = "cli.export-features"

	start, err := time.Parse(time.RFC3339, exportFlags.start)
	if err != nil {
		return errs.Validation(op, "malformed --start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, exportFlags.end)
	if err != nil {
		return errs.Validation(op, "malformed --end: %v", err)
	}

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

	dbConfig, err := database.NewConfig(
		database.WithViper(v),
		database.WithAnotherLog(logger),
	)
	if err != nil {
		return err
	}
	if err := dbConfig.Validate(); err != nil {
		return err
	}
	pool, err := database.NewPool(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer pool.Close()

	storeConfig, err := featurestore.NewConfig(
		featurestore.WithViper(v),
		featurestore.WithAnotherLog(logger),
	)
	if err != nil {
		return err
	}

	store := featurestore.NewStore(featurestore.StoreParams{
		Cold:       featurestore.NewPGColdStore(pool),
		Exports:    featurestore.NewPGExportStore(pool),
		Source:     featurestore.NewPGExportSource(pool),
		Files:      afero.NewOsFs(),
		Logger:     logger,
		TTL:        storeConfig.CacheTTL,
		ExportPath: storeConfig.ExportPath,
	})

	export, err := store.ExportToParquet(ctx, featurestore.ExportRequest{
		TenantID:   exportFlags.tenant,
		FeatureSet: exportFlags.featureSet,
		StartTime:  start,
		EndTime:    end,
		AssetIDs:   exportFlags.assets,
	})
	if err != nil {
		logger.WithError(err).Error("export failed")
		return err
	}

	out, _ := json.MarshalIndent(export, "", "  ")
	fmt.Println(string(out))
	return nil
}
