package config_test

import (
	"testing"

	"github.com/glekoz/chipdash/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDashboardConfig_Defaults(t *testing.T) {
	t.Setenv("CHIPDASH_SERVER_PORT", "8080")
	t.Setenv("CHIPDASH_API_URL", "https://api.example.com/prod/")

	cfg, err := config.NewDashboardConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, 30, cfg.Remote.HTTPTimeoutSeconds)
	assert.True(t, cfg.LoadOnStart)

	e := cfg.Remote.Endpoints()
	assert.Equal(t, "https://api.example.com/prod/data", e.Logs)
	assert.Equal(t, "https://api.example.com/prod/names", e.Names)
	assert.Equal(t, "https://api.example.com/prod/names", e.SetName)
	assert.Equal(t, "https://api.example.com/prod/data", e.Delete)
	assert.Equal(t, "https://api.example.com/prod/export-pdf", e.Export)
}

func TestNewDashboardConfig_EndpointOverrides(t *testing.T) {
	t.Setenv("CHIPDASH_SERVER_PORT", "8080")
	t.Setenv("CHIPDASH_API_URL", "https://api.example.com")
	t.Setenv("CHIPDASH_SET_NAME_URL", "https://names.example.com/set")
	t.Setenv("CHIPDASH_EXPORT_URL", "https://pdf.example.com/export")

	cfg, err := config.NewDashboardConfig()

	require.NoError(t, err)
	e := cfg.Remote.Endpoints()
	assert.Equal(t, "https://names.example.com/set", e.SetName)
	assert.Equal(t, "https://pdf.example.com/export", e.Export)
	assert.Equal(t, "https://api.example.com/data", e.Delete)
}

func TestNewDashboardConfig_MissingAPIURL(t *testing.T) {
	t.Setenv("CHIPDASH_SERVER_PORT", "8080")
	t.Setenv("CHIPDASH_API_URL", "")

	_, err := config.NewDashboardConfig()

	assert.Error(t, err)
}

func TestNewLogAPIConfig(t *testing.T) {
	t.Setenv("CHIPDASH_SERVER_PORT", "9090")
	t.Setenv("CHIPDASH_PG_USER", "chip")
	t.Setenv("CHIPDASH_PG_PASSWORD", "secret")
	t.Setenv("CHIPDASH_PG_HOST", "localhost")
	t.Setenv("CHIPDASH_PG_PORT", "5432")
	t.Setenv("CHIPDASH_PG_DBNAME", "chips")

	cfg, err := config.NewLogAPIConfig()

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5432, cfg.PG.Port)
	assert.Equal(t, "disable", cfg.PG.SSLMode)
	assert.Equal(t, 4, cfg.PG.PoolMax)
	assert.Equal(t, "Local", cfg.Timezone)
	assert.True(t, cfg.EnsureSchema)
}
