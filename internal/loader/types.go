// Package loader - Configuration Types
//
// Defines the YAML configuration structure for podwatchd.
//
//	log:          level, output format
//	server:       ops HTTP listener
//	aggregation:  vantage points, cycle interval, drain timeout
//	rpc:          per-call timeout, endpoint path, result cache
//	store:        DuckDB file and connection limits
//	retention:    registry prune window, history retention and archive
//	scoring:      reference version
//	alerts:       flap window
package loader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/insight"
	"github.com/xtxerr/podwatch/internal/rpc"
	"github.com/xtxerr/podwatch/internal/store"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for podwatchd.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	RPC         RPCConfig         `yaml:"rpc"`
	Store       StoreConfig       `yaml:"store"`
	Retention   RetentionConfig   `yaml:"retention"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// JSON switches the output to JSON lines.
	JSON bool `yaml:"json"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	// Listen is the ops listen address. Empty disables the server.
	// Default: "127.0.0.1:9464"
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// AggregationConfig configures the cycle loop.
type AggregationConfig struct {
	// VantagePoints lists "host" or "host:port" entries. A missing port
	// defaults to 6000.
	VantagePoints []string `yaml:"vantage_points"`

	// Interval is the sleep between cycles.
	// Default: 60s
	Interval Duration `yaml:"interval"`

	// DrainTimeout is how long shutdown waits for an in-flight cycle.
	// Default: 30s
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// RPCConfig configures vantage point calls.
type RPCConfig struct {
	// Timeout bounds one call.
	// Default: 3s
	Timeout Duration `yaml:"timeout"`

	// Path is the JSON-RPC endpoint path.
	// Default: "/rpc"
	Path string `yaml:"path"`

	// Cache enables cycle-scoped memoization of calls.
	// Default: true
	Cache bool `yaml:"cache"`

	// CacheSize is the number of memoized results kept.
	// Default: 1024
	CacheSize int `yaml:"cache_size"`
}

// StoreConfig configures the DuckDB store.
type StoreConfig struct {
	// Path is the database file. Empty opens an in-memory database.
	// Default: "podwatch.db"
	Path string `yaml:"path"`

	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`

	// QueryTimeout bounds a single statement.
	// Default: 10s
	QueryTimeout Duration `yaml:"query_timeout"`
}

// RetentionConfig configures pruning.
type RetentionConfig struct {
	// Registry is the default age for operator-invoked registry prunes.
	// Default: 90d
	Registry Duration `yaml:"registry"`

	// History is the age after which history rows are pruned.
	// Default: 30d
	History Duration `yaml:"history"`

	// HistoryPruneInterval is how often the scheduler prunes history.
	// Zero disables history pruning.
	// Default: 24h
	HistoryPruneInterval Duration `yaml:"history_prune_interval"`

	// ArchiveDir receives Parquet files of pruned history. Empty deletes
	// without archiving.
	ArchiveDir string `yaml:"archive_dir"`

	// ArchiveCompression is one of zstd, snappy, gzip, none.
	// Default: "zstd"
	ArchiveCompression string `yaml:"archive_compression"`
}

// ScoringConfig configures the scoring and alert engines.
type ScoringConfig struct {
	// LatestVersion is the reference pod software version.
	// Default: "0.7.0"
	LatestVersion string `yaml:"latest_version"`
}

// AlertsConfig configures alert evaluation.
type AlertsConfig struct {
	// FlapWindow is the number of recent node samples inspected for
	// flapping.
	// Default: 20
	FlapWindow int `yaml:"flap_window"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	sc := store.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info"},
		Server: ServerConfig{
			Listen:          config.DefaultListenAddress,
			ShutdownTimeout: Duration(time.Duration(config.DefaultShutdownTimeoutSec) * time.Second),
		},
		Aggregation: AggregationConfig{
			Interval:     Duration(config.DefaultCycleInterval),
			DrainTimeout: Duration(time.Duration(config.DefaultDrainTimeoutSec) * time.Second),
		},
		RPC: RPCConfig{
			Timeout:   Duration(config.DefaultRPCTimeout),
			Path:      config.DefaultRPCPath,
			Cache:     true,
			CacheSize: config.DefaultCacheSize,
		},
		Store: StoreConfig{
			Path:            config.DefaultDBPath,
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: Duration(sc.ConnMaxLifetime),
			QueryTimeout:    Duration(config.DefaultQueryTimeout),
		},
		Retention: RetentionConfig{
			Registry:             Duration(config.DefaultRegistryRetention),
			History:              Duration(config.DefaultHistoryRetention),
			HistoryPruneInterval: Duration(config.DefaultHistoryPruneInterval),
			ArchiveCompression:   "zstd",
		},
		Scoring: ScoringConfig{LatestVersion: config.DefaultLatestVersion},
		Alerts:  AlertsConfig{FlapWindow: insight.DefaultFlapWindow},
	}
}

// =============================================================================
// Conversions
// =============================================================================

// ParseVantagePoints parses the configured vantage point addresses.
func (c *Config) ParseVantagePoints() ([]rpc.VantagePoint, error) {
	out := make([]rpc.VantagePoint, 0, len(c.Aggregation.VantagePoints))
	for i, s := range c.Aggregation.VantagePoints {
		vp, err := rpc.ParseVantagePoint(s)
		if err != nil {
			return nil, fmt.Errorf("aggregation.vantage_points[%d]: %w", i, err)
		}
		out = append(out, vp)
	}
	return out, nil
}

// StoreOptions converts the store section.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		DSN:             c.Store.Path,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Duration(),
		QueryTimeout:    c.Store.QueryTimeout.Duration(),
	}
}

// RPCClientConfig converts the rpc section.
func (c *Config) RPCClientConfig() rpc.ClientConfig {
	return rpc.ClientConfig{
		Timeout: c.RPC.Timeout.Duration(),
		Path:    c.RPC.Path,
	}
}

// Archive returns the history archive, or nil when archiving is disabled.
func (c *Config) Archive() *history.Archive {
	if c.Retention.ArchiveDir == "" {
		return nil
	}
	return history.NewArchive(c.Retention.ArchiveDir, history.ParseCompressionType(c.Retention.ArchiveCompression))
}

// =============================================================================
// Helper Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Supports: "90s", "5m", "24h", "90d", or plain integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML renders the duration in Go notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// parseDuration extends time.ParseDuration with a whole-day suffix.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	// yaml decodes a bare integer into a string, so plain digits are seconds.
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
