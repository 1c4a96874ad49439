package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/OMARINO-DE/omarino-ems-suite/ai-hub/pkg/configutils"
)

const envPrefix = "AIHUB"

var configFilePath string
var debug bool

// newViper loads the config file into a viper instance with AIHUB_* env
// overrides bound for every key.
func newViper() (*viper.Viper, error) {
	v := viper.GetViper()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.Set("debug", debug)

	if configFilePath == "" {
		return nil, errors.New("no config file provided")
	}

	if err := configutils.ResolveAndMergeFile(v, configFilePath); err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	// Re-setting every key folds environment overrides into values read
	// later through UnmarshalKey.
	for _, key := range v.AllKeys() {
		v.Set(key, v.Get(key))
	}
	return v, nil
}

func configProvider() fx.Option {
	return fx.Provide(newViper)
}
