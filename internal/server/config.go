// Package server provides configuration helpers that define runtime defaults
// and validation for the relay.
package server

import (
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultLogLevel       = "info"
)

// Config holds the server configuration settings.
type Config struct {
	Port           string   `env:"SERVER_PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE"`
	LogLevel       string   `env:"LOG_LEVEL"`
	LogFile        string   `env:"LOG_FILE"`
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originList
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		LogLevel:       defaultLogLevel,
	}
}

func sanitizeConfig(cfg Config) (Config, []string) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	origins := parseOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = origins.ordered

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = origins

	return cfg, origins.rejected
}

// SetConfig applies the provided configuration. Passing nil resets to
// defaults. It returns the allowed origins that were ignored as invalid.
func SetConfig(cfg *Config) []string {
	if cfg == nil {
		_, rejected := sanitizeConfig(defaultConfig())
		return rejected
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	_, rejected := sanitizeConfig(sanitized)
	return rejected
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, keeping the
// defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	return &cfg, nil
}
