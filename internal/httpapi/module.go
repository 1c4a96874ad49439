package httpapi

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/objectstore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/orchestrator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the HTTP server and ties it to the application lifecycle.
var Module = fx.Options(
	fx.Provide(func(
		v *viper.Viper,
		orch *orchestrator.Orchestrator,
		engine *hpo.Engine,
		reg *registry.Registry,
		features *featurestore.Store,
		trk *tracker.Tracker,
		pool *pgxpool.Pool,
		store *objectstore.Client,
		gatherer prometheus.Gatherer,
		zapLogger *zap.Logger,
		logger logging.Interface,
	) (*Server, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating http config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating http config: %+v", err)
		}

		return NewServer(Params{
			Config:       config,
			Orchestrator: orch,
			HPO:          engine,
			Registry:     reg,
			Features:     features,
			Tracker:      trk,
			Logger:       logger.WithField("component", "httpapi"),
			ZapLogger:    zapLogger,
			Gatherer:     gatherer,
			Readiness: []ReadyCheck{
				{Name: "database", Check: pool.Ping},
				{Name: "object_store", Check: func(ctx context.Context) error {
					_, err := store.Exists(ctx, ".readiness-probe")
					return err
				}},
			},
		}), nil
	}),
	fx.Invoke(func(lc fx.Lifecycle, server *Server) {
		lc.Append(fx.Hook{
			OnStart: server.Start,
			OnStop:  server.Stop,
		})
	}),
)
