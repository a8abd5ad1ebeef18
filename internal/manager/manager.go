// Package manager wires podwatch together.
//
// The Manager owns every long-lived component: the store, the vantage point
// caller and its cache, the aggregation scheduler, the read-side insight
// service and the ops server. cmd/podwatchd only parses flags and drives
// the Manager.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/insight"
	"github.com/xtxerr/podwatch/internal/loader"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/metrics"
	"github.com/xtxerr/podwatch/internal/registry"
	"github.com/xtxerr/podwatch/internal/rpc"
	"github.com/xtxerr/podwatch/internal/scheduler"
	"github.com/xtxerr/podwatch/internal/server"
	"github.com/xtxerr/podwatch/internal/store"
)

var log = logging.Component("manager")

// =============================================================================
// Options
// =============================================================================

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithCaller replaces the JSON-RPC client. The result cache, when enabled,
// still wraps it.
func WithCaller(c rpc.Caller) Option {
	return func(m *Manager) { m.caller = c }
}

// =============================================================================
// Manager
// =============================================================================

// Manager is the composition root of the daemon.
type Manager struct {
	cfg   *loader.Config
	clock clock.Clock

	store     *store.Store
	metrics   *metrics.Metrics
	caller    rpc.Caller
	cache     *rpc.Cache
	retention *history.RetentionManager
	scheduler *scheduler.Scheduler
	insight   *insight.Service
	server    *server.Server

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds every component. Nothing runs until Run or
// RunOnce is called.
func New(cfg *loader.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = loader.DefaultConfig()
	}
	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}

	vps, err := cfg.ParseVantagePoints()
	if err != nil {
		return nil, err
	}
	if len(vps) == 0 {
		log.Warn("no vantage points configured; cycles will observe nothing")
	}

	m.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}

	m.metrics = metrics.New()

	if m.caller == nil {
		m.caller = rpc.NewClient(cfg.RPCClientConfig())
	}
	if cfg.RPC.Cache {
		m.cache, err = rpc.NewCache(m.caller, cfg.RPC.CacheSize, cfg.Aggregation.Interval.Duration(), m.clock)
		if err != nil {
			m.store.Close()
			return nil, fmt.Errorf("create rpc cache: %w", err)
		}
		m.metrics.WatchCache(m.cache)
		m.caller = m.cache
	}

	m.retention = history.NewRetentionManager(m.store.History(), cfg.Archive(), cfg.Retention.History.Duration(), m.clock)

	m.scheduler = scheduler.New(scheduler.Config{
		VantagePoints:        vps,
		Interval:             cfg.Aggregation.Interval.Duration(),
		DrainTimeout:         cfg.Aggregation.DrainTimeout.Duration(),
		HistoryPruneInterval: cfg.Retention.HistoryPruneInterval.Duration(),
	}, scheduler.Deps{
		Caller:    m.caller,
		Registry:  m.store.Registry(),
		History:   history.NewSnapshotter(m.store.History()),
		Snapshots: m.store,
		Retention: m.retention,
		Metrics:   m.metrics,
		Tracker:   gossip.NewTracker(),
		Clock:     m.clock,
	})

	m.insight = insight.New(insight.Config{
		Interval:      cfg.Aggregation.Interval.Duration(),
		LatestVersion: cfg.Scoring.LatestVersion,
		FlapWindow:    cfg.Alerts.FlapWindow,
	}, m.store.Registry(), m.store.History(), m.store, nil, m.clock)

	if cfg.Server.Listen != "" {
		m.server = server.New(server.Config{
			Listen:          cfg.Server.Listen,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
			PruneRetention:  cfg.Retention.Registry.Duration(),
		}, server.Deps{
			Health:   m.store,
			Registry: m.store.Registry(),
			Metrics:  m.metrics,
			Insight:  m.insight,
			Vantages: m.scheduler,
			Clock:    m.clock,
		})
	}

	log.Info("manager ready",
		"vantage_points", len(vps),
		"interval", cfg.Aggregation.Interval.Duration(),
		"rpc_cache", cfg.RPC.Cache,
		"ops_listen", cfg.Server.Listen)

	return m, nil
}

func openStore(cfg *loader.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return store.NewMemory()
	}
	return store.New(cfg.StoreOptions())
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the ops server and runs cycles until ctx is cancelled or Stop
// is called. The ops server is shut down before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Start(); err != nil {
			return err
		}
		log.Info("ops server listening", "addr", m.server.Addr())
	}

	err := m.scheduler.Run(ctx)

	if m.server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), m.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		err = multierr.Append(err, m.server.Shutdown(sctx))
	}
	return err
}

// RunOnce executes a single cycle.
func (m *Manager) RunOnce(ctx context.Context) *scheduler.CycleReport {
	return m.scheduler.RunOnce(ctx)
}

// Stop asks a running Run to return after the in-flight cycle.
func (m *Manager) Stop() {
	m.scheduler.Stop()
}

// Close releases the store. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Server.ShutdownTimeout.Duration())
			m.closeErr = multierr.Append(m.closeErr, m.server.Shutdown(ctx))
			cancel()
		}
		m.closeErr = multierr.Append(m.closeErr, m.store.Close())
		log.Info("manager closed")
	})
	return m.closeErr
}

// =============================================================================
// Operations
// =============================================================================

// Prune deletes registry entries not seen for olderThan. Zero means the
// configured registry retention.
func (m *Manager) Prune(ctx context.Context, olderThan time.Duration, dryRun bool) (registry.PruneResult, error) {
	if olderThan < 0 {
		return registry.PruneResult{}, errors.NewValidation("older_than", "cannot be negative")
	}
	if olderThan == 0 {
		olderThan = m.cfg.Retention.Registry.Duration()
	}

	res, err := registry.PruneOlderThan(ctx, m.store.Registry(), m.clock.Now(), olderThan, dryRun)
	if err != nil {
		return res, err
	}
	if res.Deleted > 0 {
		m.metrics.RegistryPruned.Add(float64(res.Deleted))
	}
	log.Info("registry pruned",
		"cutoff", res.Cutoff,
		"dry_run", res.DryRun,
		"matched", res.Matched,
		"deleted", res.Deleted)
	return res, nil
}

// =============================================================================
// Accessors
// =============================================================================

// Config returns the validated configuration.
func (m *Manager) Config() *loader.Config { return m.cfg }

// Store returns the backing store.
func (m *Manager) Store() *store.Store { return m.store }

// Metrics returns the metric set.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Scheduler returns the aggregation scheduler.
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.scheduler }

// Insight returns the read-side service.
func (m *Manager) Insight() *insight.Service { return m.insight }

// Server returns the ops server, or nil when disabled.
func (m *Manager) Server() *server.Server { return m.server }

// Cache returns the rpc result cache, or nil when disabled.
func (m *Manager) Cache() *rpc.Cache { return m.cache }
