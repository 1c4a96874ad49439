package tracker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the experiment tracker backed by Postgres.
var Module = fx.Provide(func(v *viper.Viper, pool *pgxpool.Pool, logger logging.Interface) (*Tracker, error) {
	config, err := NewConfig(WithViper(v), WithAnotherLog(logger))
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return New(Params{
		Store:        NewPGStore(pool),
		Files:        afero.NewOsFs(),
		Logger:       logger.WithField("component", "tracker"),
		ArtifactRoot: config.ArtifactRoot,
	}), nil
})
