package pods

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePodsObjectShape(t *testing.T) {
	raw := json.RawMessage(`{
		"pods": [
			{"address":"1.2.3.4:9001","pubkey":"abc","is_public":true,"rpc_port":6000,
			 "storage_committed":1073741824,"storage_used":1024,"storage_usage_percent":12.5,
			 "uptime":3600,"version":"0.7.0","last_seen":"2025-01-01 00:00:00 UTC","last_seen_timestamp":1735689600},
			{"pubkey":"only-key","uptime_seconds":42},
			{"version":"0.7.0"},
			null
		],
		"total_count": 3
	}`)

	list, err := DecodePods(raw, "vp1")
	require.NoError(t, err)

	require.Len(t, list.Observations, 2)
	require.NotNil(t, list.TotalCount)
	assert.Equal(t, 3, *list.TotalCount)
	assert.Equal(t, 2, list.Dropped)

	first := list.Observations[0]
	assert.Equal(t, "1.2.3.4:9001", first.Address)
	assert.Equal(t, "abc", first.Pubkey)
	require.NotNil(t, first.IsPublic)
	assert.True(t, *first.IsPublic)
	assert.Equal(t, int64(1073741824), first.StorageCommitted)
	assert.Equal(t, 12.5, first.StorageUsagePercent)
	assert.Equal(t, int64(3600), first.Uptime)
	assert.Equal(t, int64(1735689600), first.LastSeenTimestamp)
	assert.Equal(t, "vp1", first.Source)

	second := list.Observations[1]
	assert.Equal(t, "only-key", second.Key())
	assert.Equal(t, int64(42), second.Uptime)
	assert.Nil(t, second.IsPublic)
	assert.Equal(t, int64(0), second.LastSeenTimestamp)
}

func TestDecodePodsArrayShape(t *testing.T) {
	list, err := DecodePods(json.RawMessage(` [{"address":"a:1","last_seen":1700000000}]`), "vp2")
	require.NoError(t, err)
	require.Len(t, list.Observations, 1)
	assert.Nil(t, list.TotalCount)
	assert.Equal(t, int64(1700000000), list.Observations[0].LastSeenTimestamp)
	assert.Equal(t, "2023-11-14T22:13:20Z", list.Observations[0].LastSeen)
}

func TestDecodePodsErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"string", `"nope"`},
		{"bad array", `[1,2]`},
		{"wrong pods type", `{"pods":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePods(json.RawMessage(tt.raw), "vp")
			assert.Error(t, err)
		})
	}
}

func TestDecodeStats(t *testing.T) {
	now := time.Unix(1000, 0)

	md, st, err := DecodeStats(json.RawMessage(`{"total_bytes":10,"cpu_percent":12.5,"ram_used":50,"ram_total":200,"active_streams":3}`), now)
	require.NoError(t, err)
	assert.Equal(t, int64(10), md.TotalBytes)
	assert.Equal(t, int64(1000), md.LastUpdated)
	assert.Equal(t, 12.5, st.CPUPercent)
	assert.Equal(t, 25.0, st.RAMUsedPercent())
	assert.Equal(t, int64(3), st.ActiveStreams)

	md, _, err = DecodeStats(json.RawMessage(`{"last_updated":5}`), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), md.LastUpdated)

	_, _, err = DecodeStats(json.RawMessage(`[]`), now)
	assert.Error(t, err)
}

func TestDecodeVersion(t *testing.T) {
	v, err := DecodeVersion(json.RawMessage(`{"version":"0.7.0"}`))
	require.NoError(t, err)
	assert.Equal(t, "0.7.0", v)

	v, err = DecodeVersion(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestBuildSnapshot(t *testing.T) {
	results := []VantageResult{
		{
			Vantage:    "vp1",
			PodsMethod: "get-pods-with-stats",
			Metadata:   &Metadata{TotalBytes: 100},
			Stats:      &NodeStats{CPUPercent: 10, RAMUsed: 1, RAMTotal: 4, ActiveStreams: 2},
		},
		{
			Vantage:    "vp2",
			PodsMethod: "get-pods",
			Metadata:   &Metadata{TotalBytes: 50},
			Stats:      &NodeStats{CPUPercent: 30, RAMUsed: 3, RAMTotal: 4, ActiveStreams: 1},
		},
		{Vantage: "vp3"},
	}
	results[2].SetError("get-pods-with-stats", "timeout")

	merged := Merge([]Observation{
		obs("X", "vp1", 1, 1, ""),
		obs("X", "vp2", 2, 1, ""),
		obs("Y", "vp2", 2, 1, ""),
	})

	snap := BuildSnapshot("run-1", 7, results, merged, time.Unix(500, 0))

	s := snap.Summary
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, int64(7), s.CycleID)
	assert.Equal(t, 3, s.TotalNodes)
	assert.Equal(t, 2, s.TotalPods)
	assert.Equal(t, 3, s.TotalPodsRaw)
	assert.Equal(t, int64(150), s.TotalBytesProcessed)
	assert.Equal(t, 20.0, s.AvgCPUPercent)
	assert.Equal(t, 50.0, s.AvgRAMUsedPercent)
	assert.Equal(t, int64(3), s.TotalActiveStreams)
	assert.Equal(t, int64(500), s.LastUpdated)
	assert.Equal(t, []string{"vp3"}, s.FailedVantages)

	assert.Len(t, snap.MergedUnique, 2)
	assert.Len(t, snap.Addresses(), 2)
}
