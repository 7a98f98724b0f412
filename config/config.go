// Package config loads server settings from the environment, optionally
// overlaid by a YAML file named in BILAN_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/bilan-engine/engine"
)

type Config struct {
	Addr         string `yaml:"addr"`
	DatabasePath string `yaml:"database_path"`
	Environment  string `yaml:"environment"`
	LogLevel     string `yaml:"log_level"`

	// OverheadCoefficient is the system-wide multiplier, as a decimal string.
	OverheadCoefficient string `yaml:"overhead_coefficient"`
	RequireRate         bool   `yaml:"require_rate"`

	MetricsEnabled  bool     `yaml:"metrics_enabled"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReferentialPath string   `yaml:"referential_path"`
}

// Load reads the environment, then the YAML file if BILAN_CONFIG is set.
// File values win over environment values.
func Load() (Config, error) {
	cfg := Config{
		Addr:                getEnv("BILAN_ADDR", ":8080"),
		DatabasePath:        getEnv("BILAN_DB", "bilan.db"),
		Environment:         getEnv("BILAN_ENV", "development"),
		LogLevel:            getEnv("BILAN_LOG_LEVEL", "info"),
		OverheadCoefficient: getEnv("BILAN_OVERHEAD_COEFFICIENT", "1"),
		RequireRate:         getEnvBool("BILAN_REQUIRE_RATE", false),
		MetricsEnabled:      getEnvBool("BILAN_METRICS_ENABLED", true),
		AllowedOrigins:      splitCSV(getEnv("BILAN_ALLOWED_ORIGINS", "*")),
		ReferentialPath:     getEnv("BILAN_REFERENTIALS", ""),
	}

	if path := os.Getenv("BILAN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Coefficient parses OverheadCoefficient.
func (c Config) Coefficient() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.OverheadCoefficient))
	if err != nil {
		return decimal.Zero, fmt.Errorf("overhead_coefficient %q: %w", c.OverheadCoefficient, err)
	}
	if err := engine.ValidateScale(d, engine.CoefficientScale); err != nil {
		return decimal.Zero, fmt.Errorf("overhead_coefficient: %w", err)
	}
	return d, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database_path is required")
	}
	switch c.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("environment must be development, production or test, got %q", c.Environment)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if _, err := c.Coefficient(); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
