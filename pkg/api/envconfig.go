package api

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds the server's environment-driven settings. The serve
// command is typically deployed as a sidecar, so unlike the CLI it reads
// plain env vars rather than the project config file.
type EnvConfig struct {
	Port string `envconfig:"PORT" default:"3000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LoadEnv reads a .env file when present, then the process environment.
func LoadEnv() (*EnvConfig, error) {
	// Missing .env is fine; deployment environments set real vars.
	godotenv.Load()

	var cfg EnvConfig
	if err := envconfig.Process("SIMLAUNCH", &cfg); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address.
func (c *EnvConfig) Addr() string {
	return c.Host + ":" + c.Port
}
