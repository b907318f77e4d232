package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/hookguard/internal/config"
)

// FromGlobalConfig converts the webhook section of the service config.
// Parses the max body size and applies defaults.
func FromGlobalConfig(c *config.Config) (Config, error) {
	if c == nil {
		return Config{}, fmt.Errorf("config is nil")
	}
	wc := c.Webhook

	maxBodySize, err := parseMaxBodySize(wc.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("webhook: invalid max_body_size %q: %w", wc.MaxBodySize, err)
	}

	cfg := Config{
		Listen:       wc.Listen,
		Path:         wc.Path,
		MaxBodySize:  maxBodySize,
		ReadTimeout:  wc.ReadTimeout,
		WriteTimeout: wc.WriteTimeout,
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return Config{}, fmt.Errorf("webhook: path %q must start with /", cfg.Path)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return cfg, nil
}

// parseMaxBodySize parses size strings like "1MB", "512KB", "1048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}
	return value * multiplier, nil
}
