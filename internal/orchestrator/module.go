package orchestrator

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/pipeline"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the orchestrator backed by Postgres and ties its dispatch
// loops to the application lifecycle.
var Module = fx.Options(
	fx.Provide(func(v *viper.Viper, pool *pgxpool.Pool, pipe *pipeline.Pipeline, reg prometheus.Registerer, logger logging.Interface) (*Orchestrator, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating orchestrator config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating orchestrator config: %+v", err)
		}

		return New(Params{
			Store:   NewPGJobStore(pool),
			Runner:  pipe,
			Logger:  logger.WithField("component", "orchestrator"),
			Metrics: NewMetrics(reg),
			Config:  config,
		}), nil
	}),
	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return o.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return o.Stop(ctx)
			},
		})
	}),
)
