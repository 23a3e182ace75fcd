// Package config loads the YAML configuration of the sync tool.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-vplan-cache/cache"
	"github.com/goliatone/go-vplan-cache/internal/share"
	"github.com/goliatone/go-vplan-cache/remote"
	"github.com/goliatone/go-vplan-cache/store"
)

// Environment variables that override file values.
const (
	EnvAPIBaseURL = "VPLAN_API_BASE_URL"
	EnvDBDSN      = "VPLAN_DB_DSN"
	EnvLogLevel   = "VPLAN_LOG_LEVEL"
)

type Config struct {
	Remote   remote.Config  `yaml:"remote"`
	Database store.Config   `yaml:"database"`
	Refresh  cache.Config   `yaml:"refresh"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type RegistryConfig struct {
	// IdleTimeout is how long a shared subscription outlives its last reader.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration that works without a file: the public API
// and a local sqlite database.
func Default() Config {
	return Config{
		Remote: remote.DefaultConfig(),
		Database: store.Config{
			Driver: store.DriverSQLite,
			DSN:    "file:vplan.db?cache=shared&_fk=1",
		},
		Refresh:  cache.DefaultConfig(),
		Registry: RegistryConfig{IdleTimeout: share.DefaultIdleTimeout},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// EnvLookup reads one environment variable.
type EnvLookup func(string) (string, bool)

type loadOptions struct {
	lookup   EnvLookup
	readFile func(string) ([]byte, error)
}

type Option func(*loadOptions)

// WithEnv replaces os.LookupEnv.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.lookup = lookup }
}

// Load reads path over Default, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string, opts ...Option) (Config, error) {
	o := loadOptions{lookup: os.LookupEnv, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := o.readFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv(o.lookup)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup EnvLookup) {
	if v, ok := lookup(EnvAPIBaseURL); ok && v != "" {
		c.Remote.BaseURL = v
	}
	if v, ok := lookup(EnvDBDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	err := validation.Errors{
		"remote": validation.ValidateStruct(&c.Remote,
			validation.Field(&c.Remote.BaseURL, validation.Required, is.URL),
			validation.Field(&c.Remote.Timeout, validation.Min(time.Duration(0))),
			validation.Field(&c.Remote.MaxBodyBytes, validation.Min(int64(0))),
		),
		"database": validation.ValidateStruct(&c.Database,
			validation.Field(&c.Database.Driver, validation.Required, validation.In(store.DriverSQLite, store.DriverPostgres)),
			validation.Field(&c.Database.DSN, validation.Required),
		),
		"registry": validation.ValidateStruct(&c.Registry,
			validation.Field(&c.Registry.IdleTimeout, validation.Min(time.Duration(0))),
		),
		"logging": validation.ValidateStruct(&c.Logging,
			validation.Field(&c.Logging.Format, validation.In("json", "console")),
		),
	}.Filter()

	refreshErr := c.Refresh.Validate()
	if err == nil && refreshErr == nil {
		return nil
	}
	return errors.Join(err, wrapRefresh(refreshErr))
}

func wrapRefresh(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("refresh: %w", err)
}
