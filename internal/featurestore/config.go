package featurestore

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/configutils"
	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/logging"
)

// ConfigKey is the viper sub-key holding the feature store configuration.
const ConfigKey = "feature_store"

type Config struct {
	AnotherLogger logging.Interface

	// RedisAddr empty disables the hot cache entirely; the store still serves
	// from the cold tiers.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" validate:"required"`
	ExportPath    string        `mapstructure:"export_path" validate:"required"`
}

// Option represents a feature store configuration option.
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
		CacheTTL:   300 * time.Second,
		ExportPath: "/data/exports",
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
