package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutVault(t *testing.T) {
	os.Unsetenv("VAULT_ADDR")
	os.Unsetenv("SCHEDULER_CONCURRENCY")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.SchedulerConcurrency)
	assert.Equal(t, 2, cfg.SchedulerBrowserConcurrency)
	assert.Equal(t, 5, cfg.DefaultMinProviders)
	assert.Equal(t, 5.0, cfg.DefaultRateLimitRPS)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	os.Setenv("SCHEDULER_CONCURRENCY", "7")
	defer os.Unsetenv("SCHEDULER_CONCURRENCY")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.SchedulerConcurrency)
}
