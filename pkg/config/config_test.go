package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodograumann/Propan/pkg/broker"
	"github.com/bodograumann/Propan/pkg/broker/adapters/sqs"
	"github.com/bodograumann/Propan/pkg/config"
)

type sampleConfig struct {
	Port     int    `env:"PROPAN_TEST_PORT" env-default:"8080"`
	LogLevel string `env:"PROPAN_TEST_LOG_LEVEL" env-default:"INFO" validate:"required"`
}

func TestLoadAppliesEnvDefaultsWhenUnset(t *testing.T) {
	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("PROPAN_TEST_PORT", "9090")
	t.Setenv("PROPAN_TEST_LOG_LEVEL", "DEBUG")

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadRejectsAnExplicitEmptyRequiredField(t *testing.T) {
	t.Setenv("PROPAN_TEST_LOG_LEVEL", "")

	var cfg sampleConfig
	assert.Error(t, config.Load(&cfg))
}

// pkg/broker/adapters/sqs.Config and broker.ResilientDriverConfig
// already carry env tags for exactly this loader; these two cases
// confirm Load populates them with the same defaults their own
// constructors assume.
func TestLoadPopulatesTheSQSAdapterConfigDefaults(t *testing.T) {
	var cfg sqs.Config
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, int32(10), cfg.MaxMessagesPerPoll)
	assert.Equal(t, int32(30), cfg.VisibilityTimeout)
}

func TestLoadPopulatesTheResilientDriverConfigDefaults(t *testing.T) {
	var cfg broker.ResilientDriverConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, broker.DefaultResilientDriverConfig(), cfg)
}
