package logging

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "zero value is valid", config: Config{}},
		{name: "valid level", config: Config{Level: LevelDebug}},
		{name: "invalid level", config: Config{Level: "SHOUT"}, wantErr: true},
	}

	for i := range tests {
		tt := &tests[i]
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("negative rotation knobs rejected", func(t *testing.T) {
		c := Config{}
		c.MaxSize = -1
		assert.Error(t, c.Validate())
	})
}

func TestConfigWithViper(t *testing.T) {
	v := viper.New()
	v.Set("logging.level", "WARN")
	v.Set("logging.disableConsoleOutput", true)

	c, err := NewConfig(WithViper(v))
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, c.Level)
	assert.True(t, c.DisableConsoleOutput)
}

func TestNewLogger(t *testing.T) {
	t.Run("builds from zero config", func(t *testing.T) {
		c := &Config{DisableConsoleOutput: true}
		c.Filename = t.TempDir() + "/aihub.log"

		logger, err := NewLogger(c)
		require.NoError(t, err)
		logger.Info("hello")
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewLogger(&Config{Level: "SHOUT"})
		assert.Error(t, err)
	})
}
