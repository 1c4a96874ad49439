package validator

import (
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// Module provides the model validator.
var Module = fx.Provide(func(logger logging.Interface) *Validator {
	return New(logger.WithField("component", "validator"))
})
