package pods

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(addr, source string, ts int64, uptime int64, version string) Observation {
	return Observation{
		Address:           addr,
		Pubkey:            "pk-" + addr,
		Source:            source,
		LastSeenTimestamp: ts,
		Uptime:            uptime,
		Version:           version,
	}
}

func TestMergeLatestWins(t *testing.T) {
	// vp1 reports X at t=100, vp2 at t=150, vp3 reports something else.
	in := []Observation{
		obs("X", "vp1", 100, 50, "0.6.9"),
		obs("Y", "vp3", 120, 10, "0.7.0"),
		obs("X", "vp2", 150, 55, "0.6.9"),
	}

	r := Merge(in)

	x, ok := r.Get("X")
	require.True(t, ok)
	assert.Equal(t, int64(150), x.LastSeenTimestamp)
	assert.Equal(t, int64(55), x.Uptime)
	assert.Equal(t, "vp2", x.Source)
	assert.Equal(t, []string{"vp1", "vp2"}, x.PeerSources)
	assert.Equal(t, 2, x.PeerCount())

	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.Raw(), 3)
	assert.Equal(t, []string{"X", "Y"}, r.SortedAddresses())
}

func TestMergeTieKeepsEarlier(t *testing.T) {
	r := Merge([]Observation{
		obs("X", "vp1", 100, 1, "0.6.0"),
		obs("X", "vp2", 100, 2, "0.7.0"),
		obs("X", "vp3", 90, 3, "0.5.0"),
	})

	x, _ := r.Get("X")
	assert.Equal(t, int64(1), x.Uptime)
	assert.Equal(t, "vp1", x.Source)
	assert.Equal(t, []string{"vp1", "vp2", "vp3"}, x.PeerSources)
}

func TestMergeDeduplicatesSources(t *testing.T) {
	r := Merge([]Observation{
		obs("X", "vp1", 100, 1, ""),
		obs("X", "vp1", 200, 2, ""),
	})

	x, _ := r.Get("X")
	assert.Equal(t, []string{"vp1"}, x.PeerSources)
	assert.Equal(t, int64(2), x.Uptime)
}

func TestMergeKeysByPubkeyWithoutAddress(t *testing.T) {
	r := Merge([]Observation{
		{Pubkey: "pk1", Source: "vp1", LastSeenTimestamp: 1},
		{Pubkey: "pk1", Source: "vp2", LastSeenTimestamp: 2},
		{Source: "vp1"},
	})

	assert.Equal(t, 1, r.Len())
	p, ok := r.Get("pk1")
	require.True(t, ok)
	assert.Equal(t, []string{"vp1", "vp2"}, p.PeerSources)
	assert.Len(t, r.Raw(), 2)
}

func TestMergeResultIsolation(t *testing.T) {
	r := Merge([]Observation{obs("X", "vp1", 1, 1, "")})

	u := r.Unique()
	u[0].PeerSources[0] = "mutated"

	x, _ := r.Get("X")
	assert.Equal(t, "vp1", x.PeerSources[0])
}

// decodeObservations turns generated integers into a cycle's observations
// over a small address and vantage space so collisions are frequent.
func decodeObservations(vals []int) []Observation {
	out := make([]Observation, 0, len(vals))
	for _, v := range vals {
		out = append(out, Observation{
			Address:           fmt.Sprintf("10.0.0.%d:9001", v%5),
			Source:            fmt.Sprintf("vp%d", (v/5)%3),
			LastSeenTimestamp: int64(v / 15),
			Uptime:            int64(v),
		})
	}
	return out
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	observations := gen.SliceOfN(24, gen.IntRange(0, 299))

	properties.Property("merging the same cycle twice yields identical pods", prop.ForAll(
		func(vals []int) bool {
			in := decodeObservations(vals)
			return reflect.DeepEqual(Merge(in).Unique(), Merge(in).Unique())
		},
		observations,
	))

	properties.Property("peer sources equal exactly the reporters and are never empty", prop.ForAll(
		func(vals []int) bool {
			in := decodeObservations(vals)
			want := make(map[string]map[string]struct{})
			for _, o := range in {
				if want[o.Address] == nil {
					want[o.Address] = make(map[string]struct{})
				}
				want[o.Address][o.Source] = struct{}{}
			}

			for _, p := range Merge(in).Unique() {
				if len(p.PeerSources) == 0 {
					return false
				}
				got := append([]string(nil), p.PeerSources...)
				sort.Strings(got)
				var exp []string
				for s := range want[p.Address] {
					exp = append(exp, s)
				}
				sort.Strings(exp)
				if !reflect.DeepEqual(got, exp) {
					return false
				}
			}
			return true
		},
		observations,
	))

	properties.Property("merged record is the first observation with the latest timestamp", prop.ForAll(
		func(vals []int) bool {
			in := decodeObservations(vals)
			best := make(map[string]Observation)
			for _, o := range in {
				cur, ok := best[o.Address]
				if !ok || o.LastSeenTimestamp > cur.LastSeenTimestamp {
					best[o.Address] = o
				}
			}

			r := Merge(in)
			for addr, o := range best {
				p, ok := r.Get(addr)
				if !ok || p.Observation != o {
					return false
				}
			}
			return r.Len() == len(best)
		},
		observations,
	))

	properties.TestingRun(t)
}
