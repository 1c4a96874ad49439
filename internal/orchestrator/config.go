package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/configutils"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// ConfigKey is the viper sub-key holding the orchestrator configuration.
const ConfigKey = "orchestrator"

type Config struct {
	AnotherLogger logging.Interface

	// MaxConcurrentJobs bounds simultaneously running execution tasks.
	MaxConcurrentJobs int `mapstructure:"max_concurrent_jobs" validate:"required,min=1"`

	// PollInterval paces the dispatch loop between queue scans.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// ScheduleInterval paces the recurring-job loop.
	ScheduleInterval time.Duration `mapstructure:"schedule_interval" validate:"required"`
}

// Option represents an orchestrator configuration option.
type Option func(*Config) error

// Apply applies the given options to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}

		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig builds and returns a new configuration from the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		MaxConcurrentJobs: 3,
		PollInterval:      time.Second,
		ScheduleInterval:  30 * time.Second,
	}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// WithViper reads the ConfigKey sub-tree of the given viper into the
// configuration.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if err := configutils.BindEnvsRecursive(v, c, ConfigKey); err != nil {
			return fmt.Errorf("error occurred when binding environment variables: %+v", err)
		}

		if err := v.UnmarshalKey(ConfigKey, c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	return nil
}
