// Package insight answers on-demand questions about pods and the network
// by composing the registry, the current snapshot and node history with
// the scoring and alert engines.
//
// Online state is derived here, at read time, from LastSeen and the cycle
// interval. Nothing in this package writes.
package insight

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/alerts"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/pods"
	"github.com/xtxerr/podwatch/internal/registry"
	"github.com/xtxerr/podwatch/internal/scoring"
)

var log = logging.Component("insight")

// DefaultFlapWindow is the number of recent node samples inspected for
// flapping.
const DefaultFlapWindow = 20

// listPage bounds one registry read while walking the whole registry.
const listPage = 500

// SnapshotReader loads the current snapshot.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context) (*pods.Snapshot, error)
}

// GrowthSource supplies a pod's storage growth trend in [0,1]. ok is false
// when no trend is known, in which case the scoring default applies.
type GrowthSource interface {
	GrowthTrend(ctx context.Context, address string) (trend float64, ok bool)
}

// Config holds service configuration.
type Config struct {
	Interval      time.Duration
	LatestVersion string
	Thresholds    *alerts.Thresholds
	FlapWindow    int
}

// Service is the read side consumed by the query layer.
//
// Service is safe for concurrent use.
type Service struct {
	registry  registry.Reader
	history   history.Reader
	snapshots SnapshotReader
	growth    GrowthSource
	clock     clock.Clock

	scoring    scoring.Engine
	alerts     alerts.Engine
	interval   time.Duration
	flapWindow int
}

// New creates a service. hist, snaps and growth may be nil.
func New(cfg Config, reg registry.Reader, hist history.Reader, snaps SnapshotReader, growth GrowthSource, clk clock.Clock) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultCycleInterval
	}
	if cfg.FlapWindow <= 0 {
		cfg.FlapWindow = DefaultFlapWindow
	}
	if clk == nil {
		clk = clock.New()
	}

	ae := alerts.NewEngine(cfg.LatestVersion)
	if cfg.Thresholds != nil {
		ae.Thresholds = *cfg.Thresholds
	}

	return &Service{
		registry:   reg,
		history:    hist,
		snapshots:  snaps,
		growth:     growth,
		clock:      clk,
		scoring:    scoring.NewEngine(cfg.LatestVersion),
		alerts:     ae,
		interval:   cfg.Interval,
		flapWindow: cfg.FlapWindow,
	}
}

// =============================================================================
// Node views
// =============================================================================

// NodeScores is the scored view of one pod.
type NodeScores struct {
	Address        string                `json:"address"`
	Online         bool                  `json:"is_online"`
	PeerCount      int                   `json:"peer_count"`
	Consistency    float64               `json:"consistency_score"`
	Classification gossip.Classification `json:"gossip_classification"`
	scoring.Scores
}

// NodeAlerts is the alert view of one pod.
type NodeAlerts struct {
	Address string         `json:"address"`
	Online  bool           `json:"is_online"`
	Alerts  []alerts.Alert `json:"alerts"`
	Summary alerts.Summary `json:"summary"`
}

// NodeScores scores the pod at address. An unknown address yields an
// ErrNotFound error.
func (s *Service) NodeScores(ctx context.Context, address string) (*NodeScores, error) {
	entry, err := s.registry.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	peers := s.peerCounts(ctx)
	return s.scoreEntry(ctx, *entry, peers), nil
}

// NodeAlerts evaluates alerts for the pod at address.
func (s *Service) NodeAlerts(ctx context.Context, address string) (*NodeAlerts, error) {
	entry, err := s.registry.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	peers := s.peerCounts(ctx)
	now := s.clock.Now()

	list := s.alerts.Evaluate(s.alertNode(*entry, peers, now), s.window(ctx, address))
	return &NodeAlerts{
		Address: address,
		Online:  entry.IsOnline(now, s.interval),
		Alerts:  list,
		Summary: alerts.Summarize(list),
	}, nil
}

func (s *Service) scoreEntry(ctx context.Context, e registry.Entry, peers map[string]int) *NodeScores {
	now := s.clock.Now()
	consistency := e.ConsistencyScore

	return &NodeScores{
		Address:        e.Address,
		Online:         e.IsOnline(now, s.interval),
		PeerCount:      peers[e.Address],
		Consistency:    consistency,
		Classification: gossip.Classify(consistency),
		Scores:         s.scoring.Score(s.attributes(ctx, e, peers)),
	}
}

func (s *Service) attributes(ctx context.Context, e registry.Entry, peers map[string]int) scoring.Attributes {
	consistency := e.ConsistencyScore
	a := scoring.Attributes{
		Uptime:              e.Uptime,
		PeerCount:           peers[e.Address],
		Version:             e.Version,
		Consistency:         &consistency,
		StorageCommitted:    e.StorageCommitted,
		StorageUsagePercent: e.StorageUsagePercent,
	}
	if s.growth != nil {
		if trend, ok := s.growth.GrowthTrend(ctx, e.Address); ok {
			a.GrowthTrend = &trend
		}
	}
	return a
}

func (s *Service) alertNode(e registry.Entry, peers map[string]int, now time.Time) alerts.Node {
	return alerts.Node{
		Address:             e.Address,
		Online:              e.IsOnline(now, s.interval),
		OfflineFor:          e.OfflineDuration(now, s.interval),
		LastSeen:            e.LastSeen,
		Uptime:              e.Uptime,
		StorageUsagePercent: e.StorageUsagePercent,
		Version:             e.Version,
		PeerCount:           peers[e.Address],
	}
}

// window returns the node's recent samples, oldest first. History errors
// degrade to no window.
func (s *Service) window(ctx context.Context, address string) []history.NodeSample {
	if s.history == nil {
		return nil
	}
	samples, err := s.history.NodeSamples(ctx, address, time.Time{}, s.flapWindow)
	if err != nil {
		logging.FromContext(ctx, log).Warn("node history unavailable", "address", address, "error", err)
		return nil
	}
	return samples
}

// peerCounts maps each address in the current snapshot to the number of
// vantage points reporting it. Addresses absent from the snapshot have no
// peers.
func (s *Service) peerCounts(ctx context.Context) map[string]int {
	out := make(map[string]int)
	if s.snapshots == nil {
		return out
	}
	snap, err := s.snapshots.LoadSnapshot(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			logging.FromContext(ctx, log).Warn("snapshot unavailable", "error", err)
		}
		return out
	}
	for _, p := range snap.MergedUnique {
		out[p.Key()] = p.PeerCount()
	}
	return out
}

// =============================================================================
// Network views
// =============================================================================

// NetworkAlerts is the alert view across every registry entry.
type NetworkAlerts struct {
	Summary alerts.Summary `json:"summary"`
	Nodes   []NodeAlerts   `json:"nodes"`
}

// AlertFilter narrows NetworkAlerts. Empty fields match everything.
type AlertFilter struct {
	Severity alerts.Severity
	Type     alerts.Type
}

// NetworkAlerts evaluates every registry entry. Nodes without matching
// alerts are omitted; the summary counts the filtered alerts.
func (s *Service) NetworkAlerts(ctx context.Context, filter AlertFilter) (*NetworkAlerts, error) {
	entries, err := s.allEntries(ctx)
	if err != nil {
		return nil, err
	}
	peers := s.peerCounts(ctx)
	now := s.clock.Now()

	out := &NetworkAlerts{Nodes: []NodeAlerts{}}
	var all []alerts.Alert
	for _, e := range entries {
		list := s.alerts.Evaluate(s.alertNode(e, peers, now), s.window(ctx, e.Address))
		list = alerts.Filter(list, filter.Severity, filter.Type)
		if len(list) == 0 {
			continue
		}
		all = append(all, list...)
		out.Nodes = append(out.Nodes, NodeAlerts{
			Address: e.Address,
			Online:  e.IsOnline(now, s.interval),
			Alerts:  list,
			Summary: alerts.Summarize(list),
		})
	}
	out.Summary = alerts.Summarize(all)
	return out, nil
}

// NetworkHealth scores the whole network from the registry.
func (s *Service) NetworkHealth(ctx context.Context) (scoring.NetworkHealth, error) {
	entries, err := s.allEntries(ctx)
	if err != nil {
		return scoring.NetworkHealth{}, err
	}
	peers := s.peerCounts(ctx)
	now := s.clock.Now()

	nodes := make([]scoring.Node, 0, len(entries))
	for _, e := range entries {
		nodes = append(nodes, scoring.Node{
			Attributes: s.attributes(ctx, e, peers),
			Online:     e.IsOnline(now, s.interval),
		})
	}
	return s.scoring.NetworkHealth(nodes), nil
}

// Consistency is the gossip view of one pod.
type Consistency struct {
	Address              string                `json:"address"`
	Appearances          int64                 `json:"gossip_appearances"`
	Disappearances       int64                 `json:"gossip_disappearances"`
	Score                float64               `json:"consistency_score"`
	Classification       gossip.Classification `json:"classification"`
	LastGossipAppearance time.Time             `json:"last_gossip_appearance,omitempty"`
	LastGossipDrop       time.Time             `json:"last_gossip_drop,omitempty"`
}

// Consistency returns the gossip counters and classification of address.
func (s *Service) Consistency(ctx context.Context, address string) (*Consistency, error) {
	e, err := s.registry.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return &Consistency{
		Address:              e.Address,
		Appearances:          e.GossipAppearances,
		Disappearances:       e.GossipDisappearances,
		Score:                e.ConsistencyScore,
		Classification:       gossip.Classify(e.ConsistencyScore),
		LastGossipAppearance: e.LastGossipAppearance,
		LastGossipDrop:       e.LastGossipDrop,
	}, nil
}

// ConsistencySummary aggregates gossip consistency over the registry.
func (s *Service) ConsistencySummary(ctx context.Context) (gossip.Summary, error) {
	entries, err := s.allEntries(ctx)
	if err != nil {
		return gossip.Summary{}, err
	}
	counters := make([]gossip.Counters, 0, len(entries))
	for _, e := range entries {
		counters = append(counters, e.Counters())
	}
	return gossip.Summarize(counters), nil
}

func (s *Service) allEntries(ctx context.Context) ([]registry.Entry, error) {
	var out []registry.Entry
	for offset := 0; ; offset += listPage {
		page, err := s.registry.List(ctx, registry.ListOptions{Limit: listPage, Offset: offset})
		if err != nil {
			return nil, errors.Wrap(err, "list registry")
		}
		out = append(out, page...)
		if len(page) < listPage {
			return out, nil
		}
	}
}
