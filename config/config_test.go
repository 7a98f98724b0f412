package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bilan-engine/config"
	"github.com/warp/bilan-engine/engine"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BILAN_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "bilan.db", cfg.DatabasePath)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.MetricsEnabled)
	require.NoError(t, cfg.Validate())

	coef, err := cfg.Coefficient()
	require.NoError(t, err)
	assert.Equal(t, "1", coef.String())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BILAN_CONFIG", "")
	t.Setenv("BILAN_ADDR", ":9090")
	t.Setenv("BILAN_OVERHEAD_COEFFICIENT", "1.15")
	t.Setenv("BILAN_REQUIRE_RATE", "true")
	t.Setenv("BILAN_ALLOWED_ORIGINS", "https://rh.example.org, https://admin.example.org")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.RequireRate)
	assert.Equal(t, []string{"https://rh.example.org", "https://admin.example.org"}, cfg.AllowedOrigins)
	coef, err := cfg.Coefficient()
	require.NoError(t, err)
	assert.Equal(t, "1.15", coef.String())
}

func TestLoad_YAMLOverridesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bilan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":7000"
environment: production
overhead_coefficient: "1.2"
metrics_enabled: false
allowed_origins:
  - https://rh.example.org
`), 0o600))
	t.Setenv("BILAN_CONFIG", path)
	t.Setenv("BILAN_ADDR", ":9090")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, []string{"https://rh.example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, "bilan.db", cfg.DatabasePath)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("BILAN_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := config.Config{
		Addr:                ":8080",
		DatabasePath:        ":memory:",
		Environment:         "test",
		LogLevel:            "debug",
		OverheadCoefficient: "1",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Addr = "" }},
		{"empty db", func(c *config.Config) { c.DatabasePath = " " }},
		{"unknown environment", func(c *config.Config) { c.Environment = "staging" }},
		{"unknown level", func(c *config.Config) { c.LogLevel = "trace" }},
		{"not a decimal", func(c *config.Config) { c.OverheadCoefficient = "one" }},
		{"too many decimals", func(c *config.Config) { c.OverheadCoefficient = "1.00001" }},
		{"negative", func(c *config.Config) { c.OverheadCoefficient = "-1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid
	cfg.OverheadCoefficient = "100"
	_, err := cfg.Coefficient()
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
}
