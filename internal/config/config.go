// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultPort               = 3001
	DefaultAnalysisRateLimit  = 4.0
	DefaultPollIntervalMs     = 1000
	DefaultDebounceMs         = 150
	DefaultMaxExternalClients = 8
	DefaultMPDHost            = "localhost"
	DefaultMPDPort            = 6600
	DefaultMinioBucket        = "audiocrate"
)

// AnalysisConfig holds the key analysis endpoint settings.
type AnalysisConfig struct {
	URL       string  `toml:"url" validate:"required,url"`
	RateLimit float64 `toml:"rate_limit" validate:"gt=0"` // Requests per second
}

// PollConfig holds the live key poller settings.
type PollConfig struct {
	IntervalMs int `toml:"interval_ms" validate:"min=100"` // Tick interval in milliseconds
}

// MPDConfig holds the MPD daemon connection settings.
type MPDConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"min=1,max=65535"`
	Password string `toml:"password"`
}

// ObjectStoreConfig holds the MinIO connection settings. Credentials come
// from the environment, never from the config file.
type ObjectStoreConfig struct {
	Endpoint string `toml:"endpoint" validate:"required"`
	Bucket   string `toml:"bucket" validate:"required"`
	Region   string `toml:"region"`
	UseSSL   bool   `toml:"use_ssl"`

	AccessKey string `toml:"-" validate:"required"`
	SecretKey string `toml:"-" validate:"required"`
}

// TransportConfig holds the Socket.io transport settings.
type TransportConfig struct {
	MaxExternalClients int `toml:"max_external_clients" validate:"min=1"`
	DebounceMs         int `toml:"debounce_ms" validate:"min=0"`
}

// Config is the full application configuration.
type Config struct {
	Port  int  `toml:"port" validate:"min=1,max=65535"`
	Debug bool `toml:"debug"`

	Analysis    AnalysisConfig    `toml:"analysis"`
	Poll        PollConfig        `toml:"poll"`
	MPD         MPDConfig         `toml:"mpd"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
	Transport   TransportConfig   `toml:"transport"`
}

// Default returns a configuration populated with defaults. The analysis URL
// and object store settings have no defaults and must be provided.
func Default() Config {
	return Config{
		Port: DefaultPort,
		Analysis: AnalysisConfig{
			RateLimit: DefaultAnalysisRateLimit,
		},
		Poll: PollConfig{
			IntervalMs: DefaultPollIntervalMs,
		},
		MPD: MPDConfig{
			Host: DefaultMPDHost,
			Port: DefaultMPDPort,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: DefaultMinioBucket,
		},
		Transport: TransportConfig{
			MaxExternalClients: DefaultMaxExternalClients,
			DebounceMs:         DefaultDebounceMs,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// credential environment variables, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("MPD_PASSWORD"); v != "" {
		cfg.MPD.Password = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PollInterval returns the poll tick interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// Debounce returns the state push debounce window as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Transport.DebounceMs) * time.Millisecond
}
