// Package config holds the Rhema core's configuration: discovery limits,
// cache sizing, search limits, lock staleness, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all Rhema core configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Lock      LockConfig      `yaml:"lock"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DiscoveryConfig governs scope discovery (C2).
type DiscoveryConfig struct {
	// ScopeMarker is the dot-prefixed directory name that marks a scope root.
	ScopeMarker string `yaml:"scope_marker"`
	// MaxFileSizeBytes is the ceiling above which a data file is ignored.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	// FollowSymlinks enables following symlinked directories during the walk.
	FollowSymlinks bool `yaml:"follow_symlinks"`
}

// CacheConfig governs the query cache (C10).
type CacheConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttl_seconds"`
	Shards     int `yaml:"shards"`
}

// SearchConfig governs the search engine (C7).
type SearchConfig struct {
	MaxResults      int `yaml:"max_results"`
	SnippetRadius   int `yaml:"snippet_radius"`
	MinTokenLength  int `yaml:"min_token_length"`
	IndexWorkers    int `yaml:"index_workers"`
}

// LockConfig governs lock resolution and validation (C8/C9).
type LockConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

// TelemetryConfig governs performance/telemetry recording (C11).
type TelemetryConfig struct {
	SlowQueryThresholdMs int64  `yaml:"slow_query_threshold_ms"`
	MaxSlowQueries       int    `yaml:"max_slow_queries"`
	PersistPath          string `yaml:"persist_path"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the Rhema core's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rhema",
		Version: "1.0.0",
		Discovery: DiscoveryConfig{
			ScopeMarker:      ".rhema",
			MaxFileSizeBytes: 5 * 1024 * 1024,
			FollowSymlinks:   true,
		},
		Cache: CacheConfig{
			Capacity:   512,
			TTLSeconds: 300,
			Shards:     16,
		},
		Search: SearchConfig{
			MaxResults:     50,
			SnippetRadius:  60,
			MinTokenLength: 2,
			IndexWorkers:   4,
		},
		Lock: LockConfig{
			TTLHours: 24 * 7,
		},
		Telemetry: TelemetryConfig{
			SlowQueryThresholdMs: 250,
			MaxSlowQueries:       100,
			PersistPath:          ".rhema/telemetry.db",
		},
		Logging: LoggingConfig{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: false,
		},
	}
}

// ConfigFileName is the name of the on-disk config file, if present, under
// the repository's .rhema directory.
const ConfigFileName = "config.yaml"

// Load reads configuration from <repoRoot>/.rhema/config.yaml, falling back
// to defaults for any field not present and returning pure defaults if the
// file does not exist. It never fails for a missing file.
func Load(repoRoot string) (*Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(repoRoot, ".rhema", ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to <repoRoot>/.rhema/config.yaml, creating the directory
// if needed.
func Save(repoRoot string, cfg *Config) error {
	dir := filepath.Join(repoRoot, ".rhema")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
