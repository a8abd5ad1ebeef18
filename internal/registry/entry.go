// Package registry defines the lifecycle record kept for every pod address
// ever observed, and the rules for folding a cycle's merged pod into it.
//
// The rules are pure; persistence lives behind the Store interface.
package registry

import (
	"time"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/pods"
)

// Status is the visibility class of a pod. It never encodes liveness;
// online state is derived at read time from LastSeen.
type Status string

const (
	StatusPublic  Status = "public"
	StatusPrivate Status = "private"
	StatusUnknown Status = "unknown"
)

// StatusOf maps the reported tri-state is_public flag to a Status.
func StatusOf(isPublic *bool) Status {
	switch {
	case isPublic == nil:
		return StatusUnknown
	case *isPublic:
		return StatusPublic
	default:
		return StatusPrivate
	}
}

// Entry is the persistent record for one address.
type Entry struct {
	Address     string    `json:"address"`
	Pubkey      string    `json:"pubkey"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	LastChecked time.Time `json:"last_checked"`
	CreatedAt   time.Time `json:"created_at"`

	SourceIPs []string `json:"source_ips"`
	LastIP    string   `json:"last_ip"`
	RPCPort   int      `json:"rpc_port"`
	IsPublic  *bool    `json:"is_public"`
	Status    Status   `json:"status"`

	StorageCommitted    int64   `json:"storage_committed"`
	StorageUsed         int64   `json:"storage_used"`
	StorageUsagePercent float64 `json:"storage_usage_percent"`
	Uptime              int64   `json:"uptime"`
	Version             string  `json:"version"`

	GossipAppearances    int64     `json:"gossip_appearances"`
	GossipDisappearances int64     `json:"gossip_disappearances"`
	LastGossipAppearance time.Time `json:"last_gossip_appearance,omitempty"`
	LastGossipDrop       time.Time `json:"last_gossip_drop,omitempty"`
	ConsistencyScore     float64   `json:"consistency_score"`
}

// IsOnline reports whether the entry was seen within 2x the cycle interval.
func (e Entry) IsOnline(now time.Time, interval time.Duration) bool {
	return now.Sub(e.LastSeen) <= OnlineWindow(interval)
}

// OfflineDuration returns how long the entry has been unseen, or zero when
// it is online.
func (e Entry) OfflineDuration(now time.Time, interval time.Duration) time.Duration {
	if e.IsOnline(now, interval) {
		return 0
	}
	return now.Sub(e.LastSeen)
}

// OnlineWindow is the staleness bound for the online derivation.
func OnlineWindow(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = config.DefaultCycleInterval
	}
	return time.Duration(config.DefaultOfflineMultiplier) * interval
}

// Counters returns the entry's gossip counters.
func (e Entry) Counters() gossip.Counters {
	return gossip.Counters{
		Address:        e.Address,
		Appearances:    e.GossipAppearances,
		Disappearances: e.GossipDisappearances,
	}
}

// Update is one address's contribution from one cycle.
type Update struct {
	Pod      pods.MergedPod
	Now      time.Time
	Appeared bool
}

// Apply folds u into existing (nil for a new address) and returns the
// resulting entry. existing is not modified.
func Apply(existing *Entry, u Update) Entry {
	now := u.Now.UTC().Truncate(time.Second)
	seen := now
	if u.Pod.LastSeenTimestamp > 0 {
		seen = time.Unix(u.Pod.LastSeenTimestamp, 0).UTC()
	}

	var e Entry
	if existing == nil {
		e = Entry{
			Address:   u.Pod.Key(),
			FirstSeen: seen,
			LastSeen:  seen,
			CreatedAt: now,
		}
	} else {
		e = *existing
		e.SourceIPs = append([]string(nil), existing.SourceIPs...)
		if seen.Before(e.FirstSeen) || e.FirstSeen.IsZero() {
			e.FirstSeen = seen
		}
		if seen.After(e.LastSeen) {
			e.LastSeen = seen
		}
	}

	e.LastChecked = now
	if u.Pod.Pubkey != "" {
		e.Pubkey = u.Pod.Pubkey
	}

	for _, src := range u.Pod.PeerSources {
		if !containsString(e.SourceIPs, src) {
			e.SourceIPs = append(e.SourceIPs, src)
		}
	}
	if len(u.Pod.PeerSources) > 0 {
		e.LastIP = u.Pod.PeerSources[0]
	}

	e.RPCPort = u.Pod.RPCPort
	if e.RPCPort == 0 {
		e.RPCPort = config.DefaultPodRPCPort
	}
	e.IsPublic = u.Pod.IsPublic
	e.Status = StatusOf(u.Pod.IsPublic)

	e.StorageCommitted = u.Pod.StorageCommitted
	e.StorageUsed = u.Pod.StorageUsed
	e.StorageUsagePercent = u.Pod.StorageUsagePercent
	e.Uptime = u.Pod.Uptime
	e.Version = u.Pod.Version

	if u.Appeared {
		e.GossipAppearances++
		e.LastGossipAppearance = now
	}
	e.ConsistencyScore = gossip.ConsistencyScore(e.GossipAppearances, e.GossipDisappearances)

	return e
}

// ApplyDrop records that the address vanished from gossip at now.
func ApplyDrop(e Entry, now time.Time) Entry {
	e.GossipDisappearances++
	e.LastGossipDrop = now.UTC().Truncate(time.Second)
	e.ConsistencyScore = gossip.ConsistencyScore(e.GossipAppearances, e.GossipDisappearances)
	return e
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
