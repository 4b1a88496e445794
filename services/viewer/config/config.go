// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the viewer configuration from YAML with environment
// overrides.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("viewer.config")

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed viewer_defaults.yaml
var defaultConfigYAML []byte

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "viewer.config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRIPTLENS_"

// MaxYAMLFileSize bounds the config file size.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the viewer configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reach      ReachConfig      `yaml:"reach"`
	Limits     LimitsConfig     `yaml:"limits"`
	Beautify   BeautifyConfig   `yaml:"beautify"`
	Store      StoreConfig      `yaml:"store"`
	Repository RepositoryConfig `yaml:"repository"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`
}

// ReachConfig bounds the reachability walk.
type ReachConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// LimitsConfig bounds accepted input.
type LimitsConfig struct {
	MaxSourceBytes int `yaml:"max_source_bytes"`
	MaxFindings    int `yaml:"max_findings"`
}

// BeautifyConfig toggles the reformatting step.
type BeautifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreConfig locates the badger directory. Empty means in-memory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RepositoryConfig configures the remote repository used for definition
// lookups that miss locally.
type RepositoryConfig struct {
	URL           string  `yaml:"url"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	CacheSize     int     `yaml:"cache_size"`
}

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultPort           = 8090
	DefaultMaxDepth       = 10
	DefaultMaxSourceBytes = 8 << 20
	DefaultMaxFindings    = 10000
	DefaultRatePerSecond  = 20.0
	DefaultCacheSize      = 256
)

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := Load(context.Background(), defaultConfigYAML)
	if err != nil {
		// The embedded file is part of the binary.
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// =============================================================================
// Loading
// =============================================================================

// Load parses YAML bytes, applies defaults for missing fields and validates.
//
// Description:
//
//	Missing numeric fields fall back to the Default* constants. Boolean
//	fields cannot be distinguished from false, so Beautify.Enabled is taken
//	from the embedded defaults when the key is absent.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if parsing or validation fails.
func Load(ctx context.Context, data []byte) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Load")
	defer span.End()

	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("Load: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	cfg := Config{Beautify: BeautifyConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Load: parsing YAML: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("server.port", cfg.Server.Port),
		attribute.Int("reach.max_depth", cfg.Reach.MaxDepth),
		attribute.Bool("beautify.enabled", cfg.Beautify.Enabled),
		attribute.Bool("repository.enabled", cfg.Repository.URL != ""),
	)
	return &cfg, nil
}

// LoadFile reads path, falling back to the embedded defaults when the file
// does not exist, then applies environment overrides.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		data = defaultConfigYAML
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	slog.Info("viewer config loaded",
		slog.String("path", path),
		slog.Int("port", cfg.Server.Port),
		slog.Int("max_depth", cfg.Reach.MaxDepth),
		slog.Bool("beautify", cfg.Beautify.Enabled),
		slog.String("store", cfg.Store.Path),
	)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Reach.MaxDepth <= 0 {
		cfg.Reach.MaxDepth = DefaultMaxDepth
	}
	if cfg.Limits.MaxSourceBytes <= 0 {
		cfg.Limits.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if cfg.Limits.MaxFindings <= 0 {
		cfg.Limits.MaxFindings = DefaultMaxFindings
	}
	if cfg.Repository.RatePerSecond <= 0 {
		cfg.Repository.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Repository.CacheSize <= 0 {
		cfg.Repository.CacheSize = DefaultCacheSize
	}
}

// Validate checks ranges after defaults have been applied.
func (c *Config) Validate() error {
	if c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Reach.MaxDepth > 1000 {
		return fmt.Errorf("reach.max_depth %d exceeds 1000", c.Reach.MaxDepth)
	}
	if c.Repository.URL != "" &&
		!strings.HasPrefix(c.Repository.URL, "http://") &&
		!strings.HasPrefix(c.Repository.URL, "https://") {
		return fmt.Errorf("repository.url %q must be http or https", c.Repository.URL)
	}
	return nil
}

// ApplyEnv overrides fields from SCRIPTLENS_* variables. The variable name is
// the upper-cased YAML path with dots replaced by underscores, e.g.
// SCRIPTLENS_REACH_MAX_DEPTH.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := map[string]*int{
		"SERVER_PORT":             &c.Server.Port,
		"REACH_MAX_DEPTH":         &c.Reach.MaxDepth,
		"LIMITS_MAX_SOURCE_BYTES": &c.Limits.MaxSourceBytes,
		"LIMITS_MAX_FINDINGS":     &c.Limits.MaxFindings,
		"REPOSITORY_CACHE_SIZE":   &c.Repository.CacheSize,
	}
	for key, dst := range ints {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("%s%s: expected positive integer, got %q", EnvPrefix, key, v)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SERVER_DEBUG":     &c.Server.Debug,
		"BEAUTIFY_ENABLED": &c.Beautify.Enabled,
	}
	for key, dst := range bools {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	if v, ok := lookup(EnvPrefix + "STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvPrefix + "REPOSITORY_URL"); ok {
		c.Repository.URL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPrefix + "REPOSITORY_RATE_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("%sREPOSITORY_RATE_PER_SECOND: expected positive number, got %q", EnvPrefix, v)
		}
		c.Repository.RatePerSecond = f
	}
	return c.Validate()
}

// =============================================================================
// Singleton
// =============================================================================

var (
	configMu      sync.RWMutex
	configOnce    sync.Once
	cachedConfig  *Config
	configLoadErr error
	configPath    = DefaultFileName
)

// SetPath changes the file Get loads from. Call before the first Get.
func SetPath(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configPath = path
}

// Get returns the process configuration, loading it on first call.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func Get(ctx context.Context) (*Config, error) {
	if ctx == nil {
		return nil, fmt.Errorf("Get: ctx must not be nil")
	}

	configMu.RLock()
	if cachedConfig != nil || configLoadErr != nil {
		cfg, err := cachedConfig, configLoadErr
		configMu.RUnlock()
		return cfg, err
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	configOnce.Do(func() {
		cachedConfig, configLoadErr = LoadFile(ctx, configPath)
	})
	return cachedConfig, configLoadErr
}

// replace swaps the cached configuration after a reload.
func replace(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = cfg
	configLoadErr = nil
}

// Reset clears the cached config for testing.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = nil
	configLoadErr = nil
	configOnce = sync.Once{}
	configPath = DefaultFileName
}
