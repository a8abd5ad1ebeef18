// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result before anything is started
package loader

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/validation"
	"github.com/xtxerr/podwatch/internal/version"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Unset fields keep their
// defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration on top of the defaults. ${VAR}
// references are expanded from the environment first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration, reporting every problem at once.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs.AddField("log.level", err.Error())
	}

	if cfg.Server.Listen != "" {
		if err := validateListen(cfg.Server.Listen); err != nil {
			errs.AddField("server.listen", err.Error())
		}
	}

	seen := make(map[string]int, len(cfg.Aggregation.VantagePoints))
	for i, s := range cfg.Aggregation.VantagePoints {
		field := fmt.Sprintf("aggregation.vantage_points[%d]", i)
		hp, err := validation.ParseHostPort(s, config.DefaultRPCPort)
		if err != nil {
			errs.AddField(field, err.Error())
			continue
		}
		key := hp.String()
		if prev, dup := seen[key]; dup {
			errs.AddField(field, fmt.Sprintf("duplicates aggregation.vantage_points[%d]", prev))
			continue
		}
		seen[key] = i
	}

	if cfg.Aggregation.Interval.Duration() <= 0 {
		errs.Add(fmt.Errorf("aggregation.interval: must be positive: %w", errors.ErrInvalidInterval))
	}
	if cfg.Aggregation.DrainTimeout.Duration() < 0 {
		errs.AddField("aggregation.drain_timeout", "cannot be negative")
	}

	if cfg.RPC.Timeout.Duration() <= 0 {
		errs.AddField("rpc.timeout", "must be positive")
	}
	if !strings.HasPrefix(cfg.RPC.Path, "/") {
		errs.AddField("rpc.path", "must start with '/'")
	}
	if cfg.RPC.Cache && cfg.RPC.CacheSize <= 0 {
		errs.AddField("rpc.cache_size", "must be positive when the cache is enabled")
	}

	if cfg.Store.QueryTimeout.Duration() <= 0 {
		errs.AddField("store.query_timeout", "must be positive")
	}

	if cfg.Retention.Registry.Duration() <= 0 {
		errs.AddField("retention.registry", "must be positive")
	}
	if cfg.Retention.History.Duration() <= 0 {
		errs.AddField("retention.history", "must be positive")
	}
	if cfg.Retention.HistoryPruneInterval.Duration() < 0 {
		errs.AddField("retention.history_prune_interval", "cannot be negative")
	}
	switch cfg.Retention.ArchiveCompression {
	case "", "zstd", "snappy", "gzip", "none":
	default:
		errs.AddField("retention.archive_compression", fmt.Sprintf("unknown codec %q", cfg.Retention.ArchiveCompression))
	}

	if cfg.Scoring.LatestVersion == "" {
		errs.AddMissing("scoring.latest_version")
	} else if err := version.ValidateReference(cfg.Scoring.LatestVersion); err != nil {
		errs.AddField("scoring.latest_version", err.Error())
	}
	if cfg.Alerts.FlapWindow < 0 {
		errs.AddField("alerts.flap_window", "cannot be negative")
	}

	return errs.Err()
}

// validateListen accepts "host:port" and ":port". Port 0 picks a free port.
func validateListen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port != "0" {
		if _, err := validation.ValidatePort(port); err != nil {
			return err
		}
	}
	if host == "" {
		return nil
	}
	return validation.ValidateHost(host, validation.DefaultHostRules())
}
