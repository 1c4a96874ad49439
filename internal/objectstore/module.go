package objectstore

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the object store gateway and ensures the bucket exists
// before the application starts serving.
var Module = fx.Provide(
	func(v *viper.Viper, lc fx.Lifecycle, logger logging.Interface) (*Client, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating object store config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating object store config: %+v", err)
		}

		client, err := New(context.Background(), config, logger)
		if err != nil {
			return nil, err
		}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return client.EnsureBucket(ctx)
			},
		})

		return client, nil
	})
