// Package config persists the engine's defaults and per-path rules at the OS config directory under
// flux/config.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/xiaokanchengyang/flux/util"
)

// Config is the persisted configuration. Every field is optional; Default fills the documented defaults.
type Config struct {
	Compression CompressionConfig `toml:"compression"`
	Archive     ArchiveConfig     `toml:"archive"`
	Performance PerformanceConfig `toml:"performance"`
	Rules       []Rule            `toml:"rules"`
}

// CompressionConfig holds the default compression settings.
type CompressionConfig struct {
	// DefaultAlgorithm is used when neither the output extension nor a rule decides. Default "zstd".
	DefaultAlgorithm string `toml:"default_algorithm"`

	// DefaultLevel is the compression level when no rule overrides it. Default 3.
	DefaultLevel int `toml:"default_level"`

	// ForceCompress compresses files the smart strategy would store. Default false.
	ForceCompress bool `toml:"force_compress"`

	// SmartStrategy enables per-entry heuristics. Default true.
	SmartStrategy bool `toml:"smart_strategy"`
}

// ArchiveConfig holds archive format preferences.
type ArchiveConfig struct {
	// DefaultFormat is the container+codec used when the output has no extension. Default "tar.zst".
	DefaultFormat string `toml:"default_format"`

	// PreserveMetadata restores permissions and timestamps on extraction. Default true.
	PreserveMetadata bool `toml:"preserve_metadata"`

	// FollowSymlinks traverses symlinks when packing. Default false.
	FollowSymlinks bool `toml:"follow_symlinks"`
}

// PerformanceConfig holds tuning knobs.
type PerformanceConfig struct {
	// Threads is the codec thread count; 0 means auto-detect.
	Threads int `toml:"threads"`

	// BufferSizeKiB is the copy buffer size in KiB. Default 32.
	BufferSizeKiB int `toml:"buffer_size"`
}

// Rule overrides the strategy for paths matching a glob pattern. Rules are consulted in order; first match wins.
type Rule struct {
	// Pattern uses doublestar glob semantics against the entry's forward-slash path.
	Pattern string `toml:"pattern"`

	// Algorithm to apply for matching paths.
	Algorithm string `toml:"algorithm"`

	// Level to apply for matching paths; 0 keeps the algorithm default.
	Level int `toml:"level"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Compression: CompressionConfig{
			DefaultAlgorithm: "zstd",
			DefaultLevel:     3,
			SmartStrategy:    true,
		},
		Archive: ArchiveConfig{
			DefaultFormat:    "tar.zst",
			PreserveMetadata: true,
		},
		Performance: PerformanceConfig{
			BufferSizeKiB: 32,
		},
	}
}

// Path returns the configuration file location: <user config dir>/flux/config.toml.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config directory error: %w", err)
	}

	return filepath.Join(dir, "flux", "config.toml"), nil
}

// Load reads the configuration, returning defaults when the file does not exist yet.
func Load() (*Config, error) {
	name, err := Path()
	if err != nil {
		return nil, err
	}

	return LoadFrom(name)
}

// LoadFrom reads the configuration from the named file. Missing fields keep their defaults.
func LoadFrom(name string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf(`read config "%s" error: %w`, name, err)
	}

	if err = toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf(`parse config "%s" error: %w`, name, err)
	}

	for _, r := range c.Rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf(`parse config "%s" error: malformed rule pattern %q`, name, r.Pattern)
		}
	}

	return c, nil
}

// Save writes the configuration to its default location, creating the flux directory if needed.
func (c *Config) Save() error {
	name, err := Path()
	if err != nil {
		return err
	}

	return c.SaveTo(name)
}

// SaveTo writes the configuration to the named file via an atomic rewrite.
func (c *Config) SaveTo(name string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf(`create config directory error: %w`, err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("marshal config error: %w", err)
	}

	return util.WriteFileAtomic(name, buf.Bytes(), 0644)
}

// RuleFor returns the first rule matching the given forward-slash path, or nil.
func (c *Config) RuleFor(path string) *Rule {
	for i := range c.Rules {
		if ok, err := doublestar.Match(c.Rules[i].Pattern, path); err == nil && ok {
			return &c.Rules[i]
		}
	}

	return nil
}
