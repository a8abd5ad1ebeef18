package alerts

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/podwatch/internal/history"
)

func healthyNode() Node {
	return Node{
		Address:             "10.0.0.1:9001",
		Online:              true,
		Uptime:              30 * 86400,
		StorageUsagePercent: 50,
		Version:             "0.7.0",
		PeerCount:           3,
	}
}

func types(alerts []Alert) []Type {
	out := make([]Type, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func samples(states ...bool) []history.NodeSample {
	out := make([]history.NodeSample, len(states))
	for i, s := range states {
		out[i] = history.NodeSample{Address: "a", Timestamp: time.Unix(int64(i), 0), Online: s}
	}
	return out
}

func TestEvaluateHealthy(t *testing.T) {
	assert.Empty(t, NewEngine("0.7.0").Evaluate(healthyNode(), nil))
}

func TestEvaluateRules(t *testing.T) {
	e := NewEngine("0.7.0")

	tests := []struct {
		name     string
		mutate   func(*Node)
		want     Type
		severity Severity
	}{
		{"uptime critical", func(n *Node) { n.Uptime = 1800 }, TypeLowUptime, SeverityCritical},
		{"uptime warning", func(n *Node) { n.Uptime = 7200 }, TypeLowUptime, SeverityWarning},
		{"storage critical", func(n *Node) { n.StorageUsagePercent = 96 }, TypeStorageCritical, SeverityCritical},
		{"storage warning", func(n *Node) { n.StorageUsagePercent = 90 }, TypeStorageWarning, SeverityWarning},
		{"underutilized", func(n *Node) { n.StorageUsagePercent = 1 }, TypeUnderutilized, SeverityInfo},
		{"version outdated", func(n *Node) { n.Version = "0.5.0" }, TypeVersionOutdated, SeverityCritical},
		{"version behind", func(n *Node) { n.Version = "0.6.5" }, TypeVersionBehind, SeverityWarning},
		{"isolated", func(n *Node) { n.PeerCount = 1 }, TypeIsolated, SeverityCritical},
		{"isolated no peers", func(n *Node) { n.PeerCount = 0 }, TypeIsolated, SeverityCritical},
		{"weak connectivity", func(n *Node) { n.PeerCount = 2 }, TypeWeakConnectivity, SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := healthyNode()
			tt.mutate(&n)
			got := e.Evaluate(n, nil)
			require.Len(t, got, 1, "alerts: %v", types(got))
			assert.Equal(t, tt.want, got[0].Type)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.NotEmpty(t, got[0].Message)
			assert.NotEmpty(t, got[0].Recommendation)
		})
	}
}

func TestEvaluateMalformedVersion(t *testing.T) {
	n := healthyNode()
	n.Version = "nightly"
	assert.Empty(t, NewEngine("0.7.0").Evaluate(n, nil))
}

func TestEvaluateOffline(t *testing.T) {
	e := NewEngine("0.7.0")
	lastSeen := time.Unix(1_000_000, 0).UTC()

	n := healthyNode()
	n.Online = false
	n.LastSeen = lastSeen
	n.PeerCount = 0
	n.StorageUsagePercent = 99

	n.OfflineFor = 8 * 24 * time.Hour
	got := e.Evaluate(n, nil)
	require.Len(t, got, 1)
	assert.Equal(t, TypeOffline, got[0].Type)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, "Node offline for 8 days", got[0].Message)
	require.NotNil(t, got[0].LastSeen)
	assert.Equal(t, lastSeen, *got[0].LastSeen)

	n.OfflineFor = 4 * 24 * time.Hour
	got = e.Evaluate(n, nil)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityWarning, got[0].Severity)

	n.OfflineFor = time.Hour
	assert.Empty(t, e.Evaluate(n, nil))
}

func TestFlapping(t *testing.T) {
	n, ok := DetectFlapping(samples(true, false, true, false, true))
	assert.Equal(t, 4, n)
	assert.True(t, ok)

	n, ok = DetectFlapping(samples(true, false, true, false))
	assert.Equal(t, 0, n)
	assert.False(t, ok)

	n, ok = DetectFlapping(samples(true, true, false, true, true, false))
	assert.Equal(t, 3, n)
	assert.False(t, ok)

	got := NewEngine("").Evaluate(healthyNode(), samples(true, false, true, false, true, false))
	require.Len(t, got, 1)
	assert.Equal(t, TypeGossipFlapping, got[0].Type)
	assert.Equal(t, 5, got[0].Value)
}

func TestSummarizeAndFilter(t *testing.T) {
	n := healthyNode()
	n.Uptime = 60
	n.PeerCount = 2
	n.StorageUsagePercent = 2
	all := NewEngine("0.7.0").Evaluate(n, nil)
	require.Len(t, all, 3)

	s := Summarize(all)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Critical)
	assert.Equal(t, 1, s.Warning)
	assert.Equal(t, 1, s.Info)
	assert.Equal(t, 1, s.ByType[TypeLowUptime])

	assert.Len(t, Filter(all, SeverityWarning, ""), 1)
	assert.Len(t, Filter(all, "", TypeUnderutilized), 1)
	assert.Empty(t, Filter(all, SeverityCritical, TypeUnderutilized))
	assert.Len(t, Filter(all, "", ""), 3)

	empty := Summarize(nil)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.ByType)
}

func TestOfflineOnlyOfflineAlerts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	e := NewEngine("0.7.0")

	properties.Property("offline nodes yield only offline alerts", prop.ForAll(
		func(hours, uptime, peers int, usage float64, flaps []bool) bool {
			n := Node{
				Online:              false,
				OfflineFor:          time.Duration(hours) * time.Hour,
				Uptime:              int64(uptime),
				StorageUsagePercent: usage,
				Version:             "0.1.0",
				PeerCount:           peers,
			}
			for _, a := range e.Evaluate(n, samples(flaps...)) {
				if a.Type != TypeOffline {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 24*30),
		gen.IntRange(0, 100000),
		gen.IntRange(0, 5),
		gen.Float64Range(0, 100),
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
