// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
)

// Config is the full runtime configuration. Every knob has a default, so
// a bare environment runs against local files and a local database.
type Config struct {
	// DatabaseURL is the Postgres connection string for the reference
	// snapshot and the unified output.
	DatabaseURL string `env:"UNIFY_DATABASE_URL" envDefault:"postgres://localhost:5432/unify?sslmode=disable"`

	// Per-source SQLite snapshots produced by the acquisition jobs.
	AcrisDB      string `env:"UNIFY_ACRIS_DB" envDefault:"data/acris.db"`
	EllimanDB    string `env:"UNIFY_ELLIMAN_DB" envDefault:"data/elliman.db"`
	CorcoranDB   string `env:"UNIFY_CORCORAN_DB" envDefault:"data/corcoran.db"`
	StreetEasyDB string `env:"UNIFY_STREETEASY_DB" envDefault:"data/streeteasy.db"`

	// Matching and merge policy. DateWindowDays 0 keeps the default
	// same-calendar-month occurrence window.
	FuzzyThreshold  float64 `env:"UNIFY_FUZZY_THRESHOLD" envDefault:"0.88"`
	AmbiguityMargin float64 `env:"UNIFY_AMBIGUITY_MARGIN" envDefault:"0.02"`
	PriceTolerance  float64 `env:"UNIFY_PRICE_TOLERANCE" envDefault:"0.10"`
	DateWindowDays  int     `env:"UNIFY_DATE_WINDOW_DAYS" envDefault:"0"`

	// Workers bounds how many source extractions run concurrently.
	Workers int `env:"UNIFY_WORKERS" envDefault:"4"`

	ListenAddr string `env:"UNIFY_LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"UNIFY_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment and validates it. A
// .env file in the working directory (or a parent) seeds variables that
// are not already set.
func Load() (Config, error) {
	loadEnvFile()

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values that would make a run silently meaningless.
func (c Config) Validate() error {
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold >= 1 {
		return fmt.Errorf("fuzzy threshold %v out of range (0, 1)", c.FuzzyThreshold)
	}
	if c.AmbiguityMargin < 0 || c.AmbiguityMargin >= 1 {
		return fmt.Errorf("ambiguity margin %v out of range [0, 1)", c.AmbiguityMargin)
	}
	if c.PriceTolerance <= 0 || c.PriceTolerance >= 1 {
		return fmt.Errorf("price tolerance %v out of range (0, 1)", c.PriceTolerance)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window days must not be negative, got %d", c.DateWindowDays)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	return nil
}

// loadEnvFile reads KEY=VALUE lines from the nearest .env file. Real
// environment variables always win.
func loadEnvFile() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if os.Getenv(key) == "" {
				os.Setenv(key, strings.TrimSpace(parts[1]))
			}
		}
		return
	}
}
