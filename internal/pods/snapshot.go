package pods

import (
	"sort"
	"time"
)

// Metadata is the storage section of a get-stats result.
type Metadata struct {
	TotalBytes  int64 `json:"total_bytes"`
	TotalPages  int64 `json:"total_pages"`
	LastUpdated int64 `json:"last_updated"`
	FileSize    int64 `json:"file_size"`
}

// NodeStats is the runtime section of a get-stats result.
type NodeStats struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsed         int64   `json:"ram_used"`
	RAMTotal        int64   `json:"ram_total"`
	Uptime          int64   `json:"uptime"`
	PacketsReceived int64   `json:"packets_received"`
	PacketsSent     int64   `json:"packets_sent"`
	ActiveStreams   int64   `json:"active_streams"`
}

// RAMUsedPercent returns RAMUsed as a percentage of RAMTotal, or 0.
func (s NodeStats) RAMUsedPercent() float64 {
	if s.RAMTotal <= 0 {
		return 0
	}
	return float64(s.RAMUsed) / float64(s.RAMTotal) * 100
}

// VantageResult is what one vantage point returned this cycle.
type VantageResult struct {
	Vantage        string            `json:"address"`
	Version        string            `json:"version,omitempty"`
	Metadata       *Metadata         `json:"metadata,omitempty"`
	Stats          *NodeStats        `json:"stats,omitempty"`
	PodsMethod     string            `json:"pods_method,omitempty"`
	PodCount       int               `json:"pod_count"`
	PodsTotalCount *int              `json:"pods_total_count,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`

	Observations []Observation `json:"-"`
}

// SetError records the failure reason for one method.
func (v *VantageResult) SetError(method, reason string) {
	if v.Errors == nil {
		v.Errors = make(map[string]string)
	}
	v.Errors[method] = reason
}

// Failed reports whether no pod list could be fetched from the vantage point.
func (v VantageResult) Failed() bool {
	return v.PodsMethod == ""
}

// Summary aggregates one cycle.
type Summary struct {
	RunID               string   `json:"run_id"`
	CycleID             int64    `json:"cycle_id"`
	TotalNodes          int      `json:"total_nodes"`
	TotalPods           int      `json:"total_pnodes"`
	TotalPodsRaw        int      `json:"total_pnodes_raw"`
	TotalBytesProcessed int64    `json:"total_bytes_processed"`
	AvgCPUPercent       float64  `json:"avg_cpu_percent"`
	AvgRAMUsedPercent   float64  `json:"avg_ram_used_percent"`
	TotalActiveStreams  int64    `json:"total_active_streams"`
	LastUpdated         int64    `json:"last_updated"`
	FailedVantages      []string `json:"failed_vantages,omitempty"`
}

// Snapshot is the current network view. A single snapshot exists at any
// time; each cycle overwrites it.
type Snapshot struct {
	Summary        Summary         `json:"summary"`
	NodesByVantage []VantageResult `json:"nodes_by_vantage"`
	MergedRaw      []Observation   `json:"merged_raw"`
	MergedUnique   []MergedPod     `json:"merged_unique"`
}

// Addresses returns the merged address set recorded in the snapshot.
func (s *Snapshot) Addresses() map[string]struct{} {
	set := make(map[string]struct{}, len(s.MergedUnique))
	for _, p := range s.MergedUnique {
		set[p.Key()] = struct{}{}
	}
	return set
}

// BuildSnapshot assembles the snapshot for one cycle. CPU and RAM averages
// are taken over vantage points that returned stats.
func BuildSnapshot(runID string, cycleID int64, results []VantageResult, merged *MergeResult, now time.Time) *Snapshot {
	sum := Summary{
		RunID:        runID,
		CycleID:      cycleID,
		TotalNodes:   len(results),
		TotalPods:    merged.Len(),
		TotalPodsRaw: len(merged.raw),
		LastUpdated:  now.Unix(),
	}

	var cpu, ram float64
	var withStats int
	for _, r := range results {
		if r.Metadata != nil {
			sum.TotalBytesProcessed += r.Metadata.TotalBytes
		}
		if r.Stats != nil {
			withStats++
			cpu += r.Stats.CPUPercent
			ram += r.Stats.RAMUsedPercent()
			sum.TotalActiveStreams += r.Stats.ActiveStreams
		}
		if r.Failed() {
			sum.FailedVantages = append(sum.FailedVantages, r.Vantage)
		}
	}
	if withStats > 0 {
		sum.AvgCPUPercent = cpu / float64(withStats)
		sum.AvgRAMUsedPercent = ram / float64(withStats)
	}
	sort.Strings(sum.FailedVantages)

	return &Snapshot{
		Summary:        sum,
		NodesByVantage: results,
		MergedRaw:      merged.Raw(),
		MergedUnique:   merged.Unique(),
	}
}
