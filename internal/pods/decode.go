package pods

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Wire shapes are fully optional; every default is filled here so the rest
// of the pipeline only sees typed values.

type wirePod struct {
	Address             *string  `json:"address"`
	Pubkey              *string  `json:"pubkey"`
	IsPublic            *bool    `json:"is_public"`
	RPCPort             *float64 `json:"rpc_port"`
	StorageCommitted    *float64 `json:"storage_committed"`
	StorageUsed         *float64 `json:"storage_used"`
	StorageUsagePercent *float64 `json:"storage_usage_percent"`
	Uptime              *float64 `json:"uptime"`
	UptimeSeconds       *float64 `json:"uptime_seconds"`
	Version             *string  `json:"version"`
	LastSeen            any      `json:"last_seen"`
	LastSeenTimestamp   *float64 `json:"last_seen_timestamp"`
}

type wirePodList struct {
	Pods       []*wirePod `json:"pods"`
	TotalCount *float64   `json:"total_count"`
}

// PodList is a decoded get-pods / get-pods-with-stats result.
type PodList struct {
	Observations []Observation
	TotalCount   *int
	Dropped      int
}

// DecodePods decodes a pods result reported by source. The result may be an
// object {"pods": [...], "total_count": n} or a bare array of pods. Pods
// with neither address nor pubkey are dropped.
func DecodePods(raw json.RawMessage, source string) (PodList, error) {
	var list wirePodList

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list.Pods); err != nil {
			return PodList{}, fmt.Errorf("decode pod array: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &list); err != nil {
		return PodList{}, fmt.Errorf("decode pod list: %w", err)
	}

	out := PodList{Observations: make([]Observation, 0, len(list.Pods))}
	if list.TotalCount != nil {
		n := int(*list.TotalCount)
		out.TotalCount = &n
	}

	for _, wp := range list.Pods {
		if wp == nil {
			out.Dropped++
			continue
		}
		obs := wp.toObservation(source)
		if obs.Key() == "" {
			out.Dropped++
			continue
		}
		out.Observations = append(out.Observations, obs)
	}

	return out, nil
}

func (wp *wirePod) toObservation(source string) Observation {
	obs := Observation{
		Address:             str(wp.Address),
		Pubkey:              str(wp.Pubkey),
		IsPublic:            wp.IsPublic,
		RPCPort:             int(num(wp.RPCPort)),
		StorageCommitted:    int64(num(wp.StorageCommitted)),
		StorageUsed:         int64(num(wp.StorageUsed)),
		StorageUsagePercent: num(wp.StorageUsagePercent),
		Version:             str(wp.Version),
		LastSeenTimestamp:   int64(num(wp.LastSeenTimestamp)),
		Source:              source,
	}

	if obs.Address == "" {
		obs.Address = obs.Pubkey
	}
	if obs.Pubkey == "" {
		obs.Pubkey = obs.Address
	}

	switch {
	case wp.Uptime != nil && *wp.Uptime != 0:
		obs.Uptime = int64(*wp.Uptime)
	case wp.UptimeSeconds != nil:
		obs.Uptime = int64(*wp.UptimeSeconds)
	}

	switch v := wp.LastSeen.(type) {
	case string:
		obs.LastSeen = v
	case float64:
		obs.LastSeen = time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
		if obs.LastSeenTimestamp == 0 {
			obs.LastSeenTimestamp = int64(v)
		}
	}

	return obs
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(f *float64) float64 {
	if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) {
		return 0
	}
	return *f
}

// =============================================================================
// Version and Stats
// =============================================================================

// DecodeVersion decodes a get-version result.
func DecodeVersion(raw json.RawMessage) (string, error) {
	var v struct {
		Version *string `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	return str(v.Version), nil
}

type wireStats struct {
	TotalBytes      *float64 `json:"total_bytes"`
	TotalPages      *float64 `json:"total_pages"`
	LastUpdated     *float64 `json:"last_updated"`
	FileSize        *float64 `json:"file_size"`
	CPUPercent      *float64 `json:"cpu_percent"`
	RAMUsed         *float64 `json:"ram_used"`
	RAMTotal        *float64 `json:"ram_total"`
	Uptime          *float64 `json:"uptime"`
	PacketsReceived *float64 `json:"packets_received"`
	PacketsSent     *float64 `json:"packets_sent"`
	ActiveStreams   *float64 `json:"active_streams"`
}

// DecodeStats decodes a get-stats result. A missing last_updated defaults
// to now.
func DecodeStats(raw json.RawMessage, now time.Time) (Metadata, NodeStats, error) {
	var ws wireStats
	if err := json.Unmarshal(raw, &ws); err != nil {
		return Metadata{}, NodeStats{}, fmt.Errorf("decode stats: %w", err)
	}

	md := Metadata{
		TotalBytes:  int64(num(ws.TotalBytes)),
		TotalPages:  int64(num(ws.TotalPages)),
		LastUpdated: int64(num(ws.LastUpdated)),
		FileSize:    int64(num(ws.FileSize)),
	}
	if ws.LastUpdated == nil {
		md.LastUpdated = now.Unix()
	}

	st := NodeStats{
		CPUPercent:      num(ws.CPUPercent),
		RAMUsed:         int64(num(ws.RAMUsed)),
		RAMTotal:        int64(num(ws.RAMTotal)),
		Uptime:          int64(num(ws.Uptime)),
		PacketsReceived: int64(num(ws.PacketsReceived)),
		PacketsSent:     int64(num(ws.PacketsSent)),
		ActiveStreams:   int64(num(ws.ActiveStreams)),
	}

	return md, st, nil
}
