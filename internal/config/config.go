package config

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kproxy/internal/logging"
	"github.com/danmuck/kproxy/internal/protocol/frame"
	"github.com/danmuck/kproxy/internal/protocol/schema"
)

// FilterConfig holds the settings of one inspecting filter.
type FilterConfig struct {
	Name            string
	MaxMessageBytes int32
	// Disabled lists "apiKey:apiVersion" pairs that are captured raw
	// instead of decoded.
	Disabled    []string
	LogFailures bool
	LogLevel    string
	MetricsAddr string
}

// kproxy config.toml key mapping to filter settings.
type fileConfig struct {
	Name            string   `toml:"name"`
	MaxMessageBytes int64    `toml:"max_message_bytes"`
	Disabled        []string `toml:"disabled"`
	LogFailures     bool     `toml:"log_failures"`
	LogLevel        string   `toml:"log_level"`
	MetricsAddr     string   `toml:"metrics_addr"`
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Name:            "kproxy",
		MaxMessageBytes: frame.DefaultLimits().MaxMessageBytes,
		LogFailures:     true,
	}
}

// LoadFilterConfig overlays the keys defined in path onto the defaults.
func LoadFilterConfig(path string) (FilterConfig, error) {
	cfg := DefaultFilterConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return FilterConfig{}, fmt.Errorf("load filter config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FilterConfig{}, fmt.Errorf("load filter config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("max_message_bytes") {
		if raw.MaxMessageBytes < frame.MinHeaderSize || raw.MaxMessageBytes > math.MaxInt32 {
			return FilterConfig{}, fmt.Errorf("load filter config: max_message_bytes %d out of range", raw.MaxMessageBytes)
		}
		cfg.MaxMessageBytes = int32(raw.MaxMessageBytes)
	}
	if meta.IsDefined("disabled") {
		cfg.Disabled = raw.Disabled
	}
	if meta.IsDefined("log_failures") {
		cfg.LogFailures = raw.LogFailures
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if err := ValidateFilterConfig(cfg); err != nil {
		return FilterConfig{}, err
	}
	return cfg, nil
}

func ValidateFilterConfig(cfg FilterConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("filter config missing name")
	}
	if cfg.MaxMessageBytes < frame.MinHeaderSize {
		return fmt.Errorf("filter config max_message_bytes must be at least %d", frame.MinHeaderSize)
	}
	for i, raw := range cfg.Disabled {
		if _, err := schema.ParseKey(raw); err != nil {
			return fmt.Errorf("disabled[%d] invalid: %w", i, err)
		}
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("filter config unknown log_level %q", cfg.LogLevel)
		}
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("filter config metrics_addr invalid: %w", err)
		}
	}
	return nil
}
