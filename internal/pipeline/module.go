package pipeline

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/featurestore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/hpo"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/registry"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/tracker"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/validator"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module wires the training pipeline from configuration and its
// collaborators. The feature store doubles as the row source.
var Module = fx.Provide(
	func(v *viper.Viper, store *featurestore.Store, reg *registry.Registry, trk *tracker.Tracker, engine *hpo.Engine, val *validator.Validator, logger logging.Interface) (*Pipeline, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating pipeline config: %+v", err)
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("error validating pipeline config: %+v", err)
		}

		return New(Params{
			Rows:      store,
			Registry:  reg,
			Tracker:   trk,
			HPO:       engine,
			Validator: val,
			Logger:    logger,
			Config:    config,
		}), nil
	})
