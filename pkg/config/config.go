// Package config loads launcher configuration from the project file, the
// untracked local override, and SIMLAUNCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "SIMLAUNCH"
	ConfigName = "simlaunch"
	ConfigRoot = ".simlaunch"
)

// MountSpec is one host bind mount in the config file.
type MountSpec struct {
	Source   string `mapstructure:"source"`
	Target   string `mapstructure:"target"`
	ReadOnly bool   `mapstructure:"read_only"`
}

// ImageConfig selects the image and how to obtain it.
type ImageConfig struct {
	Ref        string `mapstructure:"ref"`
	Mode       string `mapstructure:"mode"`
	ContextDir string `mapstructure:"context_dir"`
	Dockerfile string `mapstructure:"dockerfile"`
}

// ContainerConfig shapes the launched container.
type ContainerConfig struct {
	Name         string            `mapstructure:"name"`
	GPU          bool              `mapstructure:"gpu"`
	GPUCount     int               `mapstructure:"gpu_count"`
	WorkDir      string            `mapstructure:"working_dir"`
	Env          map[string]string `mapstructure:"env"`
	Mounts       []MountSpec       `mapstructure:"mounts"`
	StartTimeout string            `mapstructure:"start_timeout"`
}

// JobConfig shapes dispatched commands.
type JobConfig struct {
	Command []string `mapstructure:"command"`
	LogDir  string   `mapstructure:"log_dir"`
}

// RegistryConfig selects the run-record backend.
type RegistryConfig struct {
	// Backend is "jsonl" or "postgres".
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	// Postgres settings, used when Backend is "postgres".
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LeaseConfig selects the duplicate-run lease backend.
type LeaseConfig struct {
	// Backend is "memory" or "valkey".
	Backend string `mapstructure:"backend"`
	Addr    string `mapstructure:"addr"`
}

// ArtifactConfig enables uploading finished-run outputs.
type ArtifactConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Config is the full launcher configuration.
type Config struct {
	Image     ImageConfig     `mapstructure:"image"`
	Container ContainerConfig `mapstructure:"container"`
	Job       JobConfig       `mapstructure:"job"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Leases    LeaseConfig     `mapstructure:"leases"`
	Artifacts ArtifactConfig  `mapstructure:"artifacts"`

	v *viper.Viper
}

// Load creates a Config with its own viper instance (no global state).
// Precedence, lowest to highest: defaults, simlaunch.yaml in the working
// directory, .simlaunch/config.yaml, SIMLAUNCH_* environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// Project config (tracked)
		for _, name := range []string{ConfigName + ".yaml", ConfigName + ".yml", "." + ConfigName + ".yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		// Local overrides (untracked)
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("image.mode", "pull")
	v.SetDefault("image.dockerfile", "Dockerfile")
	v.SetDefault("container.gpu", true)
	v.SetDefault("container.start_timeout", "60s")
	v.SetDefault("job.command", []string{"python3", "sim/train.py"})
	v.SetDefault("job.log_dir", filepath.Join(ConfigRoot, "runs"))
	v.SetDefault("registry.backend", "jsonl")
	v.SetDefault("registry.path", filepath.Join(ConfigRoot, "runs.jsonl"))
	v.SetDefault("registry.host", "localhost")
	v.SetDefault("registry.port", 5432)
	v.SetDefault("registry.user", "simlaunch")
	v.SetDefault("registry.database", "simlaunch")
	v.SetDefault("registry.sslmode", "disable")
	v.SetDefault("leases.backend", "memory")
	v.SetDefault("leases.addr", "localhost:6379")
	v.SetDefault("artifacts.region", "us-east-1")
}

// Viper exposes the underlying instance for CLI flag binding.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was read, if any.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
