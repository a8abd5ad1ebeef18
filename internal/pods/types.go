// Package pods holds the per-cycle view of the monitored network: the
// observations each vantage point reports, their deduplicated merge, and
// the network snapshot built from them.
package pods

// Observation is one pod as reported by one vantage point in one cycle.
type Observation struct {
	Address             string  `json:"address"`
	Pubkey              string  `json:"pubkey"`
	IsPublic            *bool   `json:"is_public"`
	RPCPort             int     `json:"rpc_port,omitempty"`
	StorageCommitted    int64   `json:"storage_committed"`
	StorageUsed         int64   `json:"storage_used"`
	StorageUsagePercent float64 `json:"storage_usage_percent"`
	Uptime              int64   `json:"uptime"`
	Version             string  `json:"version"`
	LastSeen            string  `json:"last_seen,omitempty"`
	LastSeenTimestamp   int64   `json:"last_seen_timestamp"`
	Source              string  `json:"source_ip"`
}

// Key returns the identity used for deduplication: the address, or the
// pubkey for pods that report no address. Empty means unkeyable.
func (o Observation) Key() string {
	if o.Address != "" {
		return o.Address
	}
	return o.Pubkey
}

// MergedPod is the winning observation for an address plus every vantage
// point that reported the address this cycle.
type MergedPod struct {
	Observation
	PeerSources []string `json:"peer_sources"`
}

// PeerCount is the gossip presence of the pod this cycle.
func (p MergedPod) PeerCount() int {
	return len(p.PeerSources)
}
