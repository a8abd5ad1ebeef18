package insight

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/podwatch/internal/alerts"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/pods"
	"github.com/xtxerr/podwatch/internal/registry"
	"github.com/xtxerr/podwatch/internal/scoring"
	"github.com/xtxerr/podwatch/internal/store"
)

var now = time.Unix(1_700_000_000, 0).UTC()

type fixedGrowth float64

func (g fixedGrowth) GrowthTrend(context.Context, string) (float64, bool) {
	return float64(g), true
}

type fixture struct {
	store *store.Store
	clock *clock.Mock
	svc   *Service
}

func newFixture(t *testing.T, growth GrowthSource) *fixture {
	t.Helper()
	st, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mock := clock.NewMock()
	mock.Set(now)

	svc := New(Config{Interval: time.Minute, LatestVersion: "0.7.0"},
		st.Registry(), st.History(), st, growth, mock)
	return &fixture{store: st, clock: mock, svc: svc}
}

func observation(addr string, seen time.Time, source string) pods.Observation {
	pub := true
	return pods.Observation{
		Address:             addr,
		Pubkey:              "pk-" + addr,
		IsPublic:            &pub,
		LastSeenTimestamp:   seen.Unix(),
		Uptime:              60 * 86400,
		Version:             "0.7.0",
		StorageCommitted:    200 << 30,
		StorageUsagePercent: 50,
		Source:              source,
	}
}

// seed stores one healthy online pod seen by three vantage points and one
// pod last seen ten days ago.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	obs := []pods.Observation{
		observation("good:1", now, "vp1"),
		observation("good:1", now, "vp2"),
		observation("good:1", now, "vp3"),
	}
	merged := pods.Merge(obs)
	for _, p := range merged.Unique() {
		_, err := f.store.Registry().Upsert(ctx, registry.Update{Pod: p, Now: now, Appeared: true})
		require.NoError(t, err)
	}

	stale := now.Add(-10 * 24 * time.Hour)
	old := pods.Merge([]pods.Observation{observation("gone:1", stale, "vp1")})
	_, err := f.store.Registry().Upsert(ctx, registry.Update{Pod: old.Unique()[0], Now: stale, Appeared: true})
	require.NoError(t, err)
	require.NoError(t, f.store.Registry().RecordDrop(ctx, "gone:1", stale.Add(time.Minute)))

	require.NoError(t, f.store.SaveSnapshot(ctx, pods.BuildSnapshot("run", 1, nil, merged, now)))
}

func TestNodeScores(t *testing.T) {
	f := newFixture(t, fixedGrowth(1))
	f.seed(t)
	ctx := context.Background()

	s, err := f.svc.NodeScores(ctx, "good:1")
	require.NoError(t, err)
	assert.True(t, s.Online)
	assert.Equal(t, 3, s.PeerCount)
	assert.Equal(t, gossip.Stable, s.Classification)
	assert.Equal(t, 100.0, s.Trust.Score)
	assert.Equal(t, 100.0, s.Capacity.Score)
	assert.Equal(t, scoring.LowRisk, s.Confidence.Rating)

	gone, err := f.svc.NodeScores(ctx, "gone:1")
	require.NoError(t, err)
	assert.False(t, gone.Online)
	assert.Zero(t, gone.PeerCount)
	assert.Equal(t, 0.5, gone.Consistency)
	assert.Equal(t, gossip.Flapping, gone.Classification)

	_, err = f.svc.NodeScores(ctx, "missing:1")
	assert.True(t, errors.IsNotFound(err))
}

func TestNodeAlerts(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	good, err := f.svc.NodeAlerts(ctx, "good:1")
	require.NoError(t, err)
	assert.Empty(t, good.Alerts)

	gone, err := f.svc.NodeAlerts(ctx, "gone:1")
	require.NoError(t, err)
	assert.False(t, gone.Online)
	require.Len(t, gone.Alerts, 1)
	assert.Equal(t, alerts.TypeOffline, gone.Alerts[0].Type)
	assert.Equal(t, alerts.SeverityCritical, gone.Alerts[0].Severity)

	// Time passes without new cycles; the healthy pod goes offline on read.
	f.clock.Add(5 * time.Minute)
	later, err := f.svc.NodeAlerts(ctx, "good:1")
	require.NoError(t, err)
	assert.False(t, later.Online)
	assert.Empty(t, later.Alerts)
}

func TestNodeAlertsFlapping(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	var samples []history.NodeSample
	for i := 0; i < 6; i++ {
		samples = append(samples, history.NodeSample{
			Address:   "good:1",
			Timestamp: now.Add(time.Duration(i-6) * time.Minute),
			Online:    i%2 == 0,
			PeerCount: 3,
		})
	}
	require.NoError(t, f.store.History().AppendNodeSamples(ctx, samples))

	got, err := f.svc.NodeAlerts(ctx, "good:1")
	require.NoError(t, err)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, alerts.TypeGossipFlapping, got.Alerts[0].Type)
}

func TestNetworkAlertsAndHealth(t *testing.T) {
	f := newFixture(t, fixedGrowth(1))
	f.seed(t)
	ctx := context.Background()

	na, err := f.svc.NetworkAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, na.Nodes, 1)
	assert.Equal(t, "gone:1", na.Nodes[0].Address)
	assert.Equal(t, 1, na.Summary.Critical)

	filtered, err := f.svc.NetworkAlerts(ctx, AlertFilter{Severity: alerts.SeverityWarning})
	require.NoError(t, err)
	assert.Empty(t, filtered.Nodes)
	assert.Zero(t, filtered.Summary.Total)

	h, err := f.svc.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.TotalNodes)
	assert.Equal(t, 1, h.OnlineNodes)
	assert.Equal(t, 15.0, h.Factors.Availability)
	assert.Equal(t, 25.0, h.Factors.VersionConsistency)
	assert.Equal(t, 20.0, h.Factors.Connectivity)
	assert.Equal(t, 25.0, h.Factors.NodeQuality)
	assert.Equal(t, scoring.Healthy, h.Status)
}

func TestConsistency(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	c, err := f.svc.Consistency(ctx, "gone:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Appearances)
	assert.Equal(t, int64(1), c.Disappearances)
	assert.Equal(t, gossip.Flapping, c.Classification)
	assert.False(t, c.LastGossipDrop.IsZero())

	sum, err := f.svc.ConsistencySummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalNodes)
	assert.Equal(t, 1, sum.FlappingNodes)
	assert.Equal(t, 1, sum.StableNodes)
	assert.InDelta(t, 0.75, sum.AverageScore, 1e-9)
}

func TestEmptyRegistry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	h, err := f.svc.NetworkHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, scoring.Unknown, h.Status)

	na, err := f.svc.NetworkAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, na.Nodes)
}
