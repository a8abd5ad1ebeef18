// Package history records a compact network summary per cycle plus a
// per-address online sample, and prunes both once they age out.
package history

import (
	"context"
	"sort"
	"time"

	"github.com/xtxerr/podwatch/internal/pods"
)

// Point is one cycle's network summary. Points are append-only.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	TotalPods   int `json:"total_pnodes"`
	PublicPods  int `json:"public_pnodes"`
	PrivatePods int `json:"private_pnodes"`

	VantagesTotal  int `json:"vantages_total"`
	VantagesFailed int `json:"vantages_failed"`

	TotalStorageCommitted  int64   `json:"total_storage_committed"`
	TotalStorageUsed       int64   `json:"total_storage_used"`
	AvgStorageUsagePercent float64 `json:"avg_storage_usage_percent"`
	AvgUptime              float64 `json:"avg_uptime"`
	AvgPeerCount           float64 `json:"avg_peer_count"`

	UptimeP50 float64 `json:"uptime_p50"`
	UptimeP90 float64 `json:"uptime_p90"`
	UptimeP99 float64 `json:"uptime_p99"`
	UsageP50  float64 `json:"usage_p50"`
	UsageP90  float64 `json:"usage_p90"`
	UsageP99  float64 `json:"usage_p99"`

	VersionDistribution map[string]int `json:"version_distribution"`
	Appeared            int            `json:"appeared"`
	Dropped             int            `json:"dropped"`
}

// NodeSample is one address's state in one cycle.
type NodeSample struct {
	Address             string    `json:"address"`
	Timestamp           time.Time `json:"timestamp"`
	Online              bool      `json:"online"`
	Uptime              int64     `json:"uptime"`
	StorageUsagePercent float64   `json:"storage_usage_percent"`
	PeerCount           int       `json:"peer_count"`
}

// Reader is the read side used by the query layer and the alert window.
type Reader interface {
	// Points returns points at or after since, oldest first.
	Points(ctx context.Context, since time.Time) ([]Point, error)

	// NodeSamples returns at most limit samples for address at or after
	// since, oldest first. limit <= 0 means no limit.
	NodeSamples(ctx context.Context, address string, since time.Time, limit int) ([]NodeSample, error)
}

// Store persists history.
type Store interface {
	Reader

	AppendPoint(ctx context.Context, p Point) error
	AppendNodeSamples(ctx context.Context, samples []NodeSample) error

	PointsBefore(ctx context.Context, cutoff time.Time) ([]Point, error)
	NodeSamplesBefore(ctx context.Context, cutoff time.Time) ([]NodeSample, error)

	// DeleteBefore removes points and samples older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (points, samples int64, err error)
}

// BuildPoint summarizes a merged cycle.
func BuildPoint(runID string, merged []pods.MergedPod, results []pods.VantageResult, appeared, dropped int, now time.Time) Point {
	p := Point{
		Timestamp:           now.UTC().Truncate(time.Second),
		RunID:               runID,
		TotalPods:           len(merged),
		VantagesTotal:       len(results),
		VersionDistribution: make(map[string]int),
		Appeared:            appeared,
		Dropped:             dropped,
	}

	for _, r := range results {
		if r.Failed() {
			p.VantagesFailed++
		}
	}

	if len(merged) == 0 {
		return p
	}

	uptime := newQuantiles()
	usage := newQuantiles()

	var usageSum, uptimeSum float64
	var peers int
	for _, pod := range merged {
		if pod.IsPublic != nil {
			if *pod.IsPublic {
				p.PublicPods++
			} else {
				p.PrivatePods++
			}
		}

		p.TotalStorageCommitted += pod.StorageCommitted
		p.TotalStorageUsed += pod.StorageUsed
		usageSum += pod.StorageUsagePercent
		uptimeSum += float64(pod.Uptime)
		peers += pod.PeerCount()

		uptime.add(float64(pod.Uptime))
		usage.add(pod.StorageUsagePercent)

		version := pod.Version
		if version == "" {
			version = "unknown"
		}
		p.VersionDistribution[version]++
	}

	n := float64(len(merged))
	p.AvgStorageUsagePercent = usageSum / n
	p.AvgUptime = uptimeSum / n
	p.AvgPeerCount = float64(peers) / n

	p.UptimeP50, p.UptimeP90, p.UptimeP99 = uptime.percentiles()
	p.UsageP50, p.UsageP90, p.UsageP99 = usage.percentiles()

	return p
}

// BuildNodeSamples returns an online sample for every merged pod and an
// offline sample for every dropped address.
func BuildNodeSamples(merged []pods.MergedPod, dropped []string, now time.Time) []NodeSample {
	ts := now.UTC().Truncate(time.Second)
	out := make([]NodeSample, 0, len(merged)+len(dropped))

	for _, pod := range merged {
		out = append(out, NodeSample{
			Address:             pod.Key(),
			Timestamp:           ts,
			Online:              true,
			Uptime:              pod.Uptime,
			StorageUsagePercent: pod.StorageUsagePercent,
			PeerCount:           pod.PeerCount(),
		})
	}
	for _, addr := range dropped {
		out = append(out, NodeSample{Address: addr, Timestamp: ts})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Summary is the aggregate view over a range of points.
type Summary struct {
	Points                int            `json:"points"`
	TotalPods             int            `json:"total_pnodes"`
	TotalStorageCommitted int64          `json:"total_storage_committed"`
	AvgPeerCount          float64        `json:"avg_peer_count"`
	VersionDistribution   map[string]int `json:"version_distribution"`
}

// Summarize reports the latest point's counts together with the number
// of points in range.
func Summarize(points []Point) Summary {
	s := Summary{Points: len(points), VersionDistribution: map[string]int{}}
	if len(points) == 0 {
		return s
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}

	s.TotalPods = latest.TotalPods
	s.TotalStorageCommitted = latest.TotalStorageCommitted
	s.AvgPeerCount = latest.AvgPeerCount
	for k, v := range latest.VersionDistribution {
		s.VersionDistribution[k] = v
	}
	return s
}
