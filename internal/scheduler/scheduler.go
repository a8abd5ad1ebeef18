// Package scheduler runs the aggregation cycle.
//
// One loop goroutine repeats fetch, merge, persist, sleep. Each cycle fans
// out one goroutine per vantage point; each of those issues its RPC calls
// concurrently. Cycles never overlap.
//
// Key features:
//   - Per-cycle run id and cycle id on every log line
//   - get-pods-with-stats with a one-shot get-pods fallback
//   - Vantage and persistence failures are logged and counted, never fatal
//   - Panic recovery around each cycle
//   - Graceful shutdown that lets the in-flight cycle finish
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/metrics"
	"github.com/xtxerr/podwatch/internal/pods"
	"github.com/xtxerr/podwatch/internal/registry"
	"github.com/xtxerr/podwatch/internal/rpc"
)

var log = logging.Component("scheduler")

// =============================================================================
// Configuration
// =============================================================================

// Config holds scheduler configuration.
type Config struct {
	// VantagePoints are queried every cycle.
	VantagePoints []rpc.VantagePoint

	// Interval is the sleep between two cycles. It also sizes the cycle id.
	Interval time.Duration

	// DrainTimeout is how long Stop waits for an in-flight cycle.
	DrainTimeout time.Duration

	// HistoryPruneInterval is how often history retention runs. Zero
	// disables it.
	HistoryPruneInterval time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:             config.DefaultCycleInterval,
		DrainTimeout:         time.Duration(config.DefaultDrainTimeoutSec) * time.Second,
		HistoryPruneInterval: config.DefaultHistoryPruneInterval,
	}
}

// SnapshotStore persists the single current snapshot.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *pods.Snapshot) error
	LoadSnapshot(ctx context.Context) (*pods.Snapshot, error)
}

// Deps are the collaborators of a Scheduler. Retention and Metrics are
// optional.
type Deps struct {
	Caller    rpc.Caller
	Registry  registry.Store
	History   *history.Snapshotter
	Snapshots SnapshotStore
	Retention *history.RetentionManager
	Metrics   *metrics.Metrics
	Tracker   *gossip.Tracker
	Clock     clock.Clock
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler drives aggregation cycles.
//
// Run and RunOnce must not be called concurrently with each other.
type Scheduler struct {
	cfg  Config
	deps Deps

	running  atomic.Bool
	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	lastPrune time.Time
	vantages  *VantageHealth

	mu   sync.Mutex
	last *CycleReport

	cycles atomic.Int64
	panics atomic.Int64
}

// New creates a scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Tracker == nil {
		deps.Tracker = gossip.NewTracker()
	}

	return &Scheduler{
		cfg:      cfg,
		deps:     deps,
		vantages: NewVantageHealth(cfg.VantagePoints),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run executes cycles until ctx is cancelled or Stop is called. The sleep
// between cycles is interrupted by either; a running cycle is not.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}
	defer close(s.done)

	log.Info("scheduler started",
		"vantage_points", len(s.cfg.VantagePoints),
		"interval", s.cfg.Interval)

	for {
		select {
		case <-s.shutdown:
			log.Info("scheduler stopped")
			return nil
		case <-ctx.Done():
			log.Info("scheduler stopped", "reason", ctx.Err())
			return nil
		default:
		}

		s.RunOnce(ctx)

		select {
		case <-s.shutdown:
			log.Info("scheduler stopped")
			return nil
		case <-ctx.Done():
			log.Info("scheduler stopped", "reason", ctx.Err())
			return nil
		case <-s.deps.Clock.After(s.cfg.Interval):
		}
	}
}

// Stop requests shutdown and waits for the in-flight cycle, bounded by the
// drain timeout. Stop is a no-op when Run was never started.
func (s *Scheduler) Stop() {
	s.StopWithContext(context.Background())
}

// StopWithContext is Stop with a caller-supplied deadline. The configured
// drain timeout is still respected as a maximum.
func (s *Scheduler) StopWithContext(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.shutdown) })

	if !s.running.Load() {
		return
	}

	log.Info("scheduler stopping")

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout)
	defer cancel()

	select {
	case <-s.done:
	case <-drainCtx.Done():
		log.Warn("scheduler drain timeout", "timeout", s.cfg.DrainTimeout)
	}
}

// =============================================================================
// Cycle
// =============================================================================

// CycleReport summarizes one cycle.
type CycleReport struct {
	RunID    string
	CycleID  int64
	Started  time.Time
	Duration time.Duration

	Vantages        int
	FailedVantages  []string
	RawObservations int
	MergedPods      int
	Appeared        int
	Dropped         int

	RegistryFailures int
	PersistErr       error
	Panic            any
}

// Partial reports whether some vantage points returned no pod listing.
func (r *CycleReport) Partial() bool {
	return len(r.FailedVantages) > 0
}

// RunOnce executes exactly one cycle and returns its report. It never
// panics; a panic inside the cycle is recovered and recorded.
func (s *Scheduler) RunOnce(ctx context.Context) (report *CycleReport) {
	now := s.deps.Clock.Now()
	report = &CycleReport{
		RunID:   uuid.NewString(),
		CycleID: rpc.CycleID(now, s.cfg.Interval),
		Started: now,
	}
	ctx = logging.ContextWithCycle(ctx, report.RunID, report.CycleID)
	clog := logging.FromContext(ctx, log)

	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			report.Panic = r
			clog.Error("panic in aggregation cycle", "panic", r)
		}
		report.Duration = s.deps.Clock.Since(now)
		s.cycles.Add(1)

		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}()

	if !s.deps.Tracker.Primed() {
		s.prime(ctx)
	}

	results := s.fetchAll(rpc.WithCycle(ctx, report.CycleID))
	s.process(ctx, report, results)

	s.maybePruneHistory(ctx)
	return report
}

// prime seeds the gossip tracker from the last persisted snapshot so a
// restart does not count every address as a fresh appearance.
func (s *Scheduler) prime(ctx context.Context) {
	if s.deps.Snapshots == nil {
		return
	}
	snap, err := s.deps.Snapshots.LoadSnapshot(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			logging.FromContext(ctx, log).Warn("load snapshot for gossip priming", "error", err)
		}
		return
	}
	addrs := snap.Addresses()
	s.deps.Tracker.Prime(addrs)
	logging.FromContext(ctx, log).Info("gossip tracker primed", "addresses", len(addrs))
}

func (s *Scheduler) process(ctx context.Context, report *CycleReport, results []pods.VantageResult) {
	clog := logging.FromContext(ctx, log)
	now := s.deps.Clock.Now()

	var observations []pods.Observation
	for _, r := range results {
		observations = append(observations, r.Observations...)
		if r.Failed() {
			report.FailedVantages = append(report.FailedVantages, r.Vantage)
		}
	}
	report.Vantages = len(results)

	merged := pods.Merge(observations)
	unique := merged.Unique()
	report.RawObservations = len(observations)
	report.MergedPods = len(unique)

	if report.Partial() {
		clog.Warn("partial coverage",
			"failed_vantages", report.FailedVantages,
			"vantages", report.Vantages)
	}

	// With no pod listing at all there is nothing to diff against.
	var changes gossip.Changes
	if len(results) > 0 && len(report.FailedVantages) < len(results) {
		changes = s.deps.Tracker.Observe(merged.Addresses(), now)
	} else {
		changes = gossip.Changes{At: now}
		clog.Warn("no vantage point returned pods; gossip tracking skipped")
	}
	report.Appeared = len(changes.Appeared)
	report.Dropped = len(changes.Dropped)

	s.updateRegistry(ctx, report, unique, changes, now)

	snap := pods.BuildSnapshot(report.RunID, report.CycleID, results, merged, now)
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
			report.PersistErr = errors.Wrap(err, "save snapshot")
			s.persistFailed("snapshot")
			clog.Error("snapshot write failed", "error", err)
		}
	}

	if s.deps.History != nil {
		if _, err := s.deps.History.Record(ctx, history.Cycle{
			RunID:   report.RunID,
			Merged:  unique,
			Results: results,
			Changes: changes,
			Now:     now,
		}); err != nil {
			s.persistFailed("history")
			clog.Error("history write failed", "error", err)
			if report.PersistErr == nil {
				report.PersistErr = err
			}
		}
	}

	if m := s.deps.Metrics; m != nil {
		m.GossipChanges.WithLabelValues("appeared").Add(float64(report.Appeared))
		m.GossipChanges.WithLabelValues("dropped").Add(float64(report.Dropped))
		m.ObserveCycle(s.deps.Clock.Since(report.Started), report.MergedPods,
			report.RawObservations, len(report.FailedVantages), now)
	}

	s.vantages.record(results, now)

	clog.Info("cycle complete",
		"vantages", report.Vantages,
		"failed", len(report.FailedVantages),
		"raw", report.RawObservations,
		"pods", report.MergedPods,
		"appeared", report.Appeared,
		"dropped", report.Dropped,
		"registry_failures", report.RegistryFailures)
}

// updateRegistry upserts every merged pod and records drops. Each address
// is written on its own; one failure does not stop the rest.
func (s *Scheduler) updateRegistry(ctx context.Context, report *CycleReport, unique []pods.MergedPod, changes gossip.Changes, now time.Time) {
	if s.deps.Registry == nil {
		return
	}
	clog := logging.FromContext(ctx, log)

	appeared := make(map[string]struct{}, len(changes.Appeared))
	for _, a := range changes.Appeared {
		appeared[a] = struct{}{}
	}

	for _, p := range unique {
		_, isNew := appeared[p.Key()]
		if _, err := s.deps.Registry.Upsert(ctx, registry.Update{Pod: p, Now: now, Appeared: isNew}); err != nil {
			report.RegistryFailures++
			s.persistFailed("registry")
			clog.Error("registry write failed", "address", p.Key(), "error", err)
		}
	}

	for _, addr := range changes.Dropped {
		if err := s.deps.Registry.RecordDrop(ctx, addr, now); err != nil {
			report.RegistryFailures++
			s.persistFailed("registry")
			clog.Error("registry drop failed", "address", addr, "error", err)
		}
	}
}

func (s *Scheduler) persistFailed(target string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.PersistenceFailures.WithLabelValues(target).Inc()
	}
}

func (s *Scheduler) maybePruneHistory(ctx context.Context) {
	if s.deps.Retention == nil || s.cfg.HistoryPruneInterval <= 0 {
		return
	}
	now := s.deps.Clock.Now()
	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.cfg.HistoryPruneInterval {
		return
	}
	s.lastPrune = now

	result, err := s.deps.Retention.RunCleanup(ctx)
	if err != nil {
		s.persistFailed("retention")
		logging.FromContext(ctx, log).Error("history retention failed", "error", err)
		return
	}
	if m := s.deps.Metrics; m != nil {
		m.HistoryPruned.WithLabelValues("history").Add(float64(result.PointsDeleted))
		m.HistoryPruned.WithLabelValues("node_history").Add(float64(result.SamplesDeleted))
	}
}

// =============================================================================
// Stats
// =============================================================================

// Stats holds scheduler counters.
type Stats struct {
	Cycles int64
	Panics int64
	Last   *CycleReport
}

// Stats returns scheduler counters and the latest report.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	return Stats{
		Cycles: s.cycles.Load(),
		Panics: s.panics.Load(),
		Last:   last,
	}
}

// Vantages returns the health of every configured vantage point, in
// configured order.
func (s *Scheduler) Vantages() []VantageStatus {
	return s.vantages.All()
}

// LastReport returns the latest cycle report, or nil before the first cycle.
func (s *Scheduler) LastReport() *CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (r *CycleReport) String() string {
	return fmt.Sprintf("run=%s cycle=%d pods=%d raw=%d failed=%d",
		r.RunID, r.CycleID, r.MergedPods, r.RawObservations, len(r.FailedVantages))
}
