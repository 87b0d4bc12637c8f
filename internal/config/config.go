// Package config loads navsql configuration from YAML.
//
//	max_passes: 8            # rewrite fixpoint bound
//	strict_navigation: false # fail on navigations no descriptor resolves
//	cache:
//	  enabled: true
//	  size: 1024             # in-memory entries, 0 = unbounded
//	  path: ""               # SQLite file for the persistent cache
//	log_level: info          # debug|info|warn|error
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/navsql/internal/rewrite"
)

// Config is the navsql configuration.
type Config struct {
	// MaxPasses bounds the rewrite loop.
	MaxPasses int `yaml:"max_passes"`

	// StrictNavigation rejects trees that still access undescribed
	// navigations after rewriting. Lenient by default: such trees reach
	// the SQL renderer, which reports them as untranslatable.
	StrictNavigation bool `yaml:"strict_navigation"`

	Cache Cache `yaml:"cache"`

	LogLevel string `yaml:"log_level"`
}

// Cache configures the compiled-query cache.
type Cache struct {
	Enabled bool   `yaml:"enabled"`
	Size    int    `yaml:"size"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxPasses: rewrite.DefaultMaxPasses,
		Cache: Cache{
			Enabled: true,
			Size:    1024,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result. Unknown fields are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.MaxPasses < 1 {
		errs = append(errs, fmt.Errorf("max_passes must be at least 1, got %d", c.MaxPasses))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the slog level of LogLevel. It assumes a validated config.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q (want debug|info|warn|error)", s)
}
