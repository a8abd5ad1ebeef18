package registry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/podwatch/internal/pods"
)

func boolPtr(b bool) *bool { return &b }

func merged(addr string, ts int64, sources ...string) pods.MergedPod {
	return pods.MergedPod{
		Observation: pods.Observation{
			Address:           addr,
			Pubkey:            "pk",
			LastSeenTimestamp: ts,
			Version:           "0.7.0",
			Uptime:            100,
		},
		PeerSources: sources,
	}
}

func TestApplyNewEntry(t *testing.T) {
	now := time.Unix(2000, 0).UTC()
	pod := merged("1.1.1.1:9001", 1500, "vp1", "vp2")
	pod.IsPublic = boolPtr(true)

	e := Apply(nil, Update{Pod: pod, Now: now, Appeared: true})

	assert.Equal(t, "1.1.1.1:9001", e.Address)
	assert.Equal(t, time.Unix(1500, 0).UTC(), e.FirstSeen)
	assert.Equal(t, time.Unix(1500, 0).UTC(), e.LastSeen)
	assert.Equal(t, now, e.LastChecked)
	assert.Equal(t, now, e.CreatedAt)
	assert.Equal(t, []string{"vp1", "vp2"}, e.SourceIPs)
	assert.Equal(t, "vp1", e.LastIP)
	assert.Equal(t, 6000, e.RPCPort)
	assert.Equal(t, StatusPublic, e.Status)
	assert.Equal(t, int64(1), e.GossipAppearances)
	assert.Equal(t, now, e.LastGossipAppearance)
	assert.Equal(t, 1.0, e.ConsistencyScore)
}

func TestApplyMissingTimestampDefaultsToNow(t *testing.T) {
	now := time.Unix(2000, 0).UTC()
	e := Apply(nil, Update{Pod: merged("a", 0, "vp1"), Now: now})
	assert.Equal(t, now, e.LastSeen)
	assert.Equal(t, now, e.FirstSeen)
	assert.Equal(t, StatusUnknown, e.Status)
	assert.Equal(t, int64(0), e.GossipAppearances)
	assert.Equal(t, 1.0, e.ConsistencyScore)
}

func TestApplyExistingEntry(t *testing.T) {
	existing := Apply(nil, Update{Pod: merged("a", 1000, "vp1"), Now: time.Unix(1000, 0)})
	existing.RPCPort = 7000

	pod := merged("a", 900, "vp2", "vp1")
	pod.RPCPort = 6001
	pod.IsPublic = boolPtr(false)
	pod.Version = "0.6.9"

	e := Apply(&existing, Update{Pod: pod, Now: time.Unix(1100, 0)})

	// Older report moves first_seen back but not last_seen forward.
	assert.Equal(t, time.Unix(900, 0).UTC(), e.FirstSeen)
	assert.Equal(t, time.Unix(1000, 0).UTC(), e.LastSeen)
	assert.Equal(t, time.Unix(1100, 0).UTC(), e.LastChecked)
	assert.Equal(t, time.Unix(1000, 0).UTC(), e.CreatedAt)
	assert.Equal(t, []string{"vp1", "vp2"}, e.SourceIPs)
	assert.Equal(t, "vp2", e.LastIP)
	assert.Equal(t, 6001, e.RPCPort)
	assert.Equal(t, StatusPrivate, e.Status)
	assert.Equal(t, "0.6.9", e.Version)

	// Source slice of the original entry is untouched.
	assert.Equal(t, []string{"vp1"}, existing.SourceIPs)
}

func TestApplyDrop(t *testing.T) {
	e := Apply(nil, Update{Pod: merged("a", 1, "vp1"), Now: time.Unix(10, 0), Appeared: true})
	e = ApplyDrop(e, time.Unix(20, 0))
	e = Apply(&e, Update{Pod: merged("a", 30, "vp1"), Now: time.Unix(30, 0), Appeared: true})

	assert.Equal(t, int64(2), e.GossipAppearances)
	assert.Equal(t, int64(1), e.GossipDisappearances)
	assert.Equal(t, time.Unix(20, 0).UTC(), e.LastGossipDrop)
	assert.InDelta(t, 2.0/3, e.ConsistencyScore, 1e-9)
}

func TestOnlineDerivation(t *testing.T) {
	interval := time.Minute
	e := Entry{LastSeen: time.Unix(1000, 0)}

	tests := []struct {
		name    string
		now     int64
		online  bool
		offline time.Duration
	}{
		{"just seen", 1000, true, 0},
		{"at bound", 1120, true, 0},
		{"past bound", 1121, false, 121 * time.Second},
		{"days later", 1000 + 4*86400, false, 4 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Unix(tt.now, 0)
			assert.Equal(t, tt.online, e.IsOnline(now, interval))
			assert.Equal(t, tt.offline, e.OfflineDuration(now, interval))
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusUnknown, StatusOf(nil))
	assert.Equal(t, StatusPublic, StatusOf(boolPtr(true)))
	assert.Equal(t, StatusPrivate, StatusOf(boolPtr(false)))
}

func TestCutoff(t *testing.T) {
	now := time.Unix(100*86400, 0)
	assert.Equal(t, time.Unix(10*86400, 0), Cutoff(now, 0))
	assert.Equal(t, time.Unix(99*86400, 0), Cutoff(now, 24*time.Hour))
}

func TestApplyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("first_seen never increases and last_seen never decreases", prop.ForAll(
		func(stamps []int, drops []bool) bool {
			var e *Entry
			for i, ts := range stamps {
				u := Update{
					Pod:      merged("a", int64(ts), "vp1"),
					Now:      time.Unix(int64(10000+i), 0),
					Appeared: i%2 == 0,
				}
				next := Apply(e, u)
				if drops[i] {
					next = ApplyDrop(next, u.Now)
				}
				if e != nil {
					if next.FirstSeen.After(e.FirstSeen) || next.LastSeen.Before(e.LastSeen) {
						return false
					}
				}
				if next.ConsistencyScore < 0 || next.ConsistencyScore > 1 {
					return false
				}
				e = &next
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, 5000)),
		gen.SliceOfN(12, gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestCounters(t *testing.T) {
	e := Entry{Address: "a", GossipAppearances: 3, GossipDisappearances: 1}
	c := e.Counters()
	require.Equal(t, "a", c.Address)
	assert.Equal(t, 0.75, c.Score())
}
