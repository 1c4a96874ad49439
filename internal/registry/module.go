package registry

import (
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/internal/objectstore"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the model registry wired to the object store gateway.
var Module = fx.Provide(func(store *objectstore.Client, logger logging.Interface) *Registry {
	return New(store, logger.WithField("component", "registry"))
})
