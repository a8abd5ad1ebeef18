// Package scoring derives trust, capacity and staking-confidence scores for
// a pod from its current attributes.
//
// Scoring is pure and never fails: missing inputs take documented defaults.
package scoring

import (
	"math"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/version"
)

const (
	// DefaultConsistency is used when no consistency score is known.
	DefaultConsistency = 1.0

	// DefaultGrowthTrend is used when no growth trend is supplied.
	DefaultGrowthTrend = 0.5

	gib = 1024 * 1024 * 1024
)

// Rating is the staking-confidence class.
type Rating string

const (
	LowRisk    Rating = "low_risk"
	MediumRisk Rating = "medium_risk"
	HighRisk   Rating = "high_risk"
)

// Attributes are the inputs of one pod's scores.
type Attributes struct {
	Uptime              int64    // seconds
	PeerCount           int      // vantage points reporting the pod this cycle
	Version             string
	Consistency         *float64 // nil means DefaultConsistency
	StorageCommitted    int64    // bytes
	StorageUsagePercent float64
	GrowthTrend         *float64 // 0..1, nil means DefaultGrowthTrend
}

// TrustBreakdown holds the trust components.
type TrustBreakdown struct {
	Uptime            float64 `json:"uptime"`
	GossipPresence    float64 `json:"gossip_presence"`
	VersionCompliance float64 `json:"version_compliance"`
	GossipConsistency float64 `json:"gossip_consistency"`
}

// CapacityBreakdown holds the capacity components.
type CapacityBreakdown struct {
	StorageCommitted float64 `json:"storage_committed"`
	UsageBalance     float64 `json:"usage_balance"`
	GrowthTrend      float64 `json:"growth_trend"`
}

// Trust is the 0..100 trust score.
type Trust struct {
	Score     float64        `json:"score"`
	Breakdown TrustBreakdown `json:"breakdown"`
}

// Capacity is the 0..100 capacity score.
type Capacity struct {
	Score     float64           `json:"score"`
	Breakdown CapacityBreakdown `json:"breakdown"`
}

// Confidence is the weighted composite of trust and capacity.
type Confidence struct {
	Composite float64 `json:"composite_score"`
	Rating    Rating  `json:"rating"`
}

// Scores bundles all scores of a pod.
type Scores struct {
	Trust      Trust      `json:"trust"`
	Capacity   Capacity   `json:"capacity"`
	Confidence Confidence `json:"stake_confidence"`
}

// Engine scores pods against a reference version.
type Engine struct {
	LatestVersion string
}

// NewEngine creates an engine; an empty latest falls back to the default.
func NewEngine(latest string) Engine {
	if latest == "" {
		latest = config.DefaultLatestVersion
	}
	return Engine{LatestVersion: latest}
}

// Score computes every score for a.
func (e Engine) Score(a Attributes) Scores {
	trust := e.Trust(a)
	capacity := CapacityOf(a)
	return Scores{
		Trust:      trust,
		Capacity:   capacity,
		Confidence: StakeConfidence(trust.Score, capacity.Score),
	}
}

// Trust = uptime(40) + gossip presence(30) + version(20) + consistency(10).
func (e Engine) Trust(a Attributes) Trust {
	days := float64(max64(a.Uptime, 0)) / 86400
	b := TrustBreakdown{
		Uptime:            round2(math.Min(days/30, 1) * 40),
		GossipPresence:    round2(GossipPresence(a.PeerCount)),
		VersionCompliance: e.versionCompliance(a.Version),
		GossipConsistency: round2(clamp01(valueOr(a.Consistency, DefaultConsistency)) * 10),
	}
	return Trust{
		Score:     round2(b.Uptime + b.GossipPresence + b.VersionCompliance + b.GossipConsistency),
		Breakdown: b,
	}
}

// GossipPresence is min(peers/3, 1) x 30.
func GossipPresence(peers int) float64 {
	if peers < 0 {
		peers = 0
	}
	return math.Min(float64(peers)/3, 1) * 30
}

func (e Engine) versionCompliance(v string) float64 {
	latest := e.LatestVersion
	if latest == "" {
		latest = config.DefaultLatestVersion
	}
	switch {
	case v != "" && v == latest:
		return 20
	case version.OneMinorBehind(v, latest):
		return 10
	default:
		return 0
	}
}

// CapacityOf scores capacity as committed(30) + usage balance(40) + growth(30).
func CapacityOf(a Attributes) Capacity {
	committedGiB := float64(max64(a.StorageCommitted, 0)) / gib
	b := CapacityBreakdown{
		StorageCommitted: round2(math.Min(committedGiB/100, 1) * 30),
		UsageBalance:     round2(UsageBalance(a.StorageUsagePercent)),
		GrowthTrend:      round2(clamp01(valueOr(a.GrowthTrend, DefaultGrowthTrend)) * 30),
	}
	return Capacity{
		Score:     round2(b.StorageCommitted + b.UsageBalance + b.GrowthTrend),
		Breakdown: b,
	}
}

// UsageBalance is 40 within [20,80] and falls linearly to 0 at 0% and 100%.
func UsageBalance(usage float64) float64 {
	var v float64
	switch {
	case usage >= 20 && usage <= 80:
		v = 40
	case usage < 20:
		v = usage / 20 * 40
	default:
		v = (100 - usage) / 20 * 40
	}
	return math.Max(v, 0)
}

// StakeConfidence = 0.6 x trust + 0.4 x capacity.
func StakeConfidence(trust, capacity float64) Confidence {
	composite := round2(trust*0.6 + capacity*0.4)
	return Confidence{Composite: composite, Rating: RatingOf(composite)}
}

// RatingOf classifies a composite score.
func RatingOf(composite float64) Rating {
	switch {
	case composite >= 80:
		return LowRisk
	case composite >= 60:
		return MediumRisk
	default:
		return HighRisk
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return def
	}
	return *p
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
