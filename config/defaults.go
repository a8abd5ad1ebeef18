// Package config provides configuration defaults and utilities
// for the podwatch application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Ops Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default ops HTTP listen address
	// (health, metrics, admin prune).
	// Override via config: server.listen
	DefaultListenAddress = "127.0.0.1:9464"

	// DefaultShutdownTimeoutSec bounds the HTTP server shutdown.
	// Override via config: server.shutdown_timeout
	DefaultShutdownTimeoutSec = 10
)

// =============================================================================
// Aggregation Defaults
// =============================================================================

const (
	// DefaultCycleInterval is the sleep between two aggregation cycles.
	// It is also the width of a cache cycle and the unit of the offline threshold.
	// Override via config: aggregation.interval
	DefaultCycleInterval = 60 * time.Second

	// DefaultDrainTimeoutSec is how long Stop waits for an in-flight cycle.
	// Override via config: aggregation.drain_timeout
	DefaultDrainTimeoutSec = 30

	// DefaultOfflineMultiplier: a pod is offline once now - last_seen
	// exceeds this many cycle intervals.
	DefaultOfflineMultiplier = 2
)

// =============================================================================
// RPC Defaults
// =============================================================================

const (
	// DefaultRPCTimeout bounds a single vantage point call.
	// Override via config: rpc.timeout
	DefaultRPCTimeout = 3 * time.Second

	// DefaultRPCPort is used when a vantage point is configured without a port.
	DefaultRPCPort = 6000

	// DefaultRPCPath is the JSON-RPC endpoint path on a vantage point.
	DefaultRPCPath = "/rpc"

	// DefaultCacheSize is the number of (cycle, vantage, method) results kept.
	// Override via config: rpc.cache_size
	DefaultCacheSize = 1024

	// DefaultPodRPCPort is recorded for pods that report no rpc_port.
	DefaultPodRPCPort = 6000
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRegistryRetention is the prune window for registry entries.
	// Prune is operator-invoked only.
	// Override via config: retention.registry
	DefaultRegistryRetention = 90 * 24 * time.Hour

	// DefaultHistoryRetention is the age after which history points and
	// node samples are pruned.
	// Override via config: retention.history
	DefaultHistoryRetention = 30 * 24 * time.Hour

	// DefaultHistoryPruneInterval is how often the scheduler prunes history.
	// Override via config: retention.history_prune_interval
	DefaultHistoryPruneInterval = 24 * time.Hour
)

// =============================================================================
// Scoring Defaults
// =============================================================================

const (
	// DefaultLatestVersion is the reference pod software version.
	// Override via config: scoring.latest_version
	DefaultLatestVersion = "0.7.0"

	// DefaultFlappingThreshold: consistency scores below this are "flapping".
	DefaultFlappingThreshold = 0.8
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultDBPath is the DuckDB database file.
	// Override via config: store.path
	DefaultDBPath = "podwatch.db"

	// DefaultQueryTimeout bounds a single store statement.
	// Override via config: store.query_timeout
	DefaultQueryTimeout = 10 * time.Second
)
