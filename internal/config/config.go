package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Remote   RemoteConfig   `yaml:"remote"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type StorageConfig struct {
	Dir          string `yaml:"dir"`
	DatabasePath string `yaml:"database_path"`
}

type RemoteConfig struct {
	LoginURL     string        `yaml:"login_url"`
	APIVersion   string        `yaml:"api_version"`
	ChunkSize    int           `yaml:"chunk_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollMaxWait  time.Duration `yaml:"poll_max_wait"`
	CallsPerSec  float64       `yaml:"calls_per_sec"`
}

type SecurityConfig struct {
	APISecret       string `yaml:"api_secret"`
	VaultPassphrase string `yaml:"vault_passphrase"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8080",
		},
		Storage: StorageConfig{
			Dir:          "./salesforce_snapshots",
			DatabasePath: "./mdsync.db",
		},
		Remote: RemoteConfig{
			LoginURL:     "https://login.salesforce.com",
			APIVersion:   "58.0",
			ChunkSize:    1500,
			PollInterval: 2 * time.Second,
			PollMaxWait:  10 * time.Minute,
			CallsPerSec:  5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file, falling back to defaults for unset
// fields. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Override with environment variables if present
	if listen := os.Getenv("MDSYNC_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if secret := os.Getenv("MDSYNC_API_SECRET"); secret != "" {
		cfg.Security.APISecret = secret
	}
	if pass := os.Getenv("MDSYNC_VAULT_PASSPHRASE"); pass != "" {
		cfg.Security.VaultPassphrase = pass
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Remote.LoginURL == "" {
		return fmt.Errorf("remote.login_url is required")
	}
	if c.Remote.APIVersion == "" {
		return fmt.Errorf("remote.api_version is required")
	}
	if c.Remote.ChunkSize <= 0 {
		return fmt.Errorf("remote.chunk_size must be positive")
	}
	if c.Remote.PollInterval <= 0 {
		return fmt.Errorf("remote.poll_interval must be positive")
	}
	if c.Remote.PollMaxWait < c.Remote.PollInterval {
		return fmt.Errorf("remote.poll_max_wait must be at least remote.poll_interval")
	}
	if c.Remote.CallsPerSec <= 0 {
		return fmt.Errorf("remote.calls_per_sec must be positive")
	}
	return nil
}
