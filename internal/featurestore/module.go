package featurestore

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module wires the feature store from configuration, the database pool and an
// optional Redis hot cache.
var Module = fx.Provide(
	func(v *viper.Viper, pool *pgxpool.Pool, logger logging.Interface) (*Store, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating feature store config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating feature store config: %+v", err)
		}

		var cache Cache
		if config.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     config.RedisAddr,
				Password: config.RedisPassword,
				DB:       config.RedisDB,
			})
			cache = NewRedisCache(client, logger)
		} else {
			logger.Warn("feature cache disabled: no redis address configured")
		}

		return NewStore(StoreParams{
			Cache:      cache,
			Cold:       NewPGColdStore(pool),
			Exports:    NewPGExportStore(pool),
			Source:     NewPGExportSource(pool),
			Files:      afero.NewOsFs(),
			Logger:     logger,
			TTL:        config.CacheTTL,
			ExportPath: config.ExportPath,
		}), nil
	})
