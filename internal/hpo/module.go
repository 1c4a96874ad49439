package hpo

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the HPO engine backed by the Postgres study store.
var Module = fx.Provide(func(pool *pgxpool.Pool, logger logging.Interface) *Engine {
	return New(Params{
		Store:  NewPGStudyStore(pool),
		Logger: logger.WithField("component", "hpo"),
	})
})
