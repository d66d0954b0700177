package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envConfig lists the process environment variables the service reads.
type envConfig struct {
	Environment  string `env:"APP_ENVIRONMENT"`
	Port         string `env:"PORT"`
	SettingsFile string `env:"APP_SETTINGS"`
}

// parseEnv reads envConfig from the process environment.
func parseEnv() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return envConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
