// Package config loads lumakey's file configuration and fetches the
// per-customer experience record that names the stream assets.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete engine configuration. Diagnostic output is an
// explicit field here rather than a process-wide switch, so embedding
// callers control logging per subsystem instance.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Preview    PreviewConfig    `yaml:"preview"`
	Experience ExperienceConfig `yaml:"experience"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// PlaybackConfig tunes the composite session.
type PlaybackConfig struct {
	TickHz          float64 `yaml:"tick_hz"`
	PrerollMs       int     `yaml:"preroll_ms"`
	ParallelPreroll bool    `yaml:"parallel_preroll"`
	PlayOnce        bool    `yaml:"play_once"`
}

// PreviewConfig configures the inspection server. An empty Addr disables
// it.
type PreviewConfig struct {
	Addr string `yaml:"addr"`
	TLS  bool   `yaml:"tls"`
}

// ExperienceConfig locates the per-customer experience record. Either URL
// (fetched as JSON) or the direct RGB/Alpha pair must be set.
type ExperienceConfig struct {
	URL       string `yaml:"url"`
	HTTP3     bool   `yaml:"http3"`
	TimeoutMs int    `yaml:"timeout_ms"`
	RGBURL    string `yaml:"rgb_url"`
	AlphaURL  string `yaml:"alpha_url"`
}

// Load reads configuration from a YAML file, rejecting unknown fields and
// applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Playback.TickHz == 0 {
		c.Playback.TickHz = 30
	}
	if c.Playback.PrerollMs == 0 {
		c.Playback.PrerollMs = 500
	}
	if c.Experience.TimeoutMs == 0 {
		c.Experience.TimeoutMs = 10_000
	}
}

// Preroll returns the preroll duration.
func (c *Config) Preroll() time.Duration {
	return time.Duration(c.Playback.PrerollMs) * time.Millisecond
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
