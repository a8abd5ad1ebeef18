// Package alerts evaluates threshold rules against a pod's current state
// and recent node history.
package alerts

import (
	"fmt"
	"time"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/history"
	"github.com/xtxerr/podwatch/internal/version"
)

// Severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Type tags an alert rule.
type Type string

const (
	TypeOffline          Type = "offline"
	TypeLowUptime        Type = "low_uptime"
	TypeStorageCritical  Type = "storage_critical"
	TypeStorageWarning   Type = "storage_warning"
	TypeVersionOutdated  Type = "version_outdated"
	TypeVersionBehind    Type = "version_behind"
	TypeIsolated         Type = "isolated"
	TypeWeakConnectivity Type = "weak_connectivity"
	TypeUnderutilized    Type = "underutilized"
	TypeGossipFlapping   Type = "gossip_flapping"
)

// Alert is one triggered rule. Value and Threshold are numbers except for
// version rules, where both are version strings.
type Alert struct {
	Severity       Severity   `json:"severity"`
	Type           Type       `json:"type"`
	Message        string     `json:"message"`
	Metric         string     `json:"metric"`
	Value          any        `json:"value"`
	Threshold      any        `json:"threshold"`
	Recommendation string     `json:"recommendation"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
}

// Level is a critical/warning pair.
type Level[T any] struct {
	Critical T `yaml:"critical" json:"critical"`
	Warning  T `yaml:"warning" json:"warning"`
}

// Thresholds configures every rule.
type Thresholds struct {
	OfflineDuration Level[time.Duration] `yaml:"offline_duration" json:"offline_duration"`
	Uptime          Level[time.Duration] `yaml:"uptime" json:"uptime"`
	StorageUsage    Level[float64]       `yaml:"storage_usage" json:"storage_usage"`
	VersionBehind   Level[int]           `yaml:"version_behind" json:"version_behind"`
	PeerCount       Level[int]           `yaml:"peer_count" json:"peer_count"`

	Underutilized   float64 `yaml:"underutilized" json:"underutilized"`
	FlapTransitions int     `yaml:"flap_transitions" json:"flap_transitions"`
	FlapMinSamples  int     `yaml:"flap_min_samples" json:"flap_min_samples"`
}

// DefaultThresholds returns the stock rule set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OfflineDuration: Level[time.Duration]{Critical: 7 * 24 * time.Hour, Warning: 3 * 24 * time.Hour},
		Uptime:          Level[time.Duration]{Critical: time.Hour, Warning: 24 * time.Hour},
		StorageUsage:    Level[float64]{Critical: 95, Warning: 85},
		VersionBehind:   Level[int]{Critical: 2, Warning: 1},
		PeerCount:       Level[int]{Critical: 1, Warning: 2},
		Underutilized:   5,
		FlapTransitions: 3,
		FlapMinSamples:  5,
	}
}

// Node is the state a pod is evaluated on. Online and OfflineFor are
// derived by the caller at read time.
type Node struct {
	Address             string
	Online              bool
	OfflineFor          time.Duration
	LastSeen            time.Time
	Uptime              int64 // seconds
	StorageUsagePercent float64
	Version             string
	PeerCount           int
}

// Engine evaluates alert rules.
type Engine struct {
	Thresholds    Thresholds
	LatestVersion string
}

// NewEngine returns an engine with default thresholds.
func NewEngine(latest string) Engine {
	if latest == "" {
		latest = config.DefaultLatestVersion
	}
	return Engine{Thresholds: DefaultThresholds(), LatestVersion: latest}
}

// Evaluate returns the alerts triggered by n. window is the node's recent
// sample history, oldest first, and may be empty. An offline node only
// ever yields offline alerts.
func (e Engine) Evaluate(n Node, window []history.NodeSample) []Alert {
	th := e.Thresholds
	var out []Alert

	if !n.Online {
		days := int64(n.OfflineFor / (24 * time.Hour))
		var lastSeen *time.Time
		if !n.LastSeen.IsZero() {
			ls := n.LastSeen
			lastSeen = &ls
		}
		switch {
		case n.OfflineFor > th.OfflineDuration.Critical:
			out = append(out, Alert{
				Severity:       SeverityCritical,
				Type:           TypeOffline,
				Message:        fmt.Sprintf("Node offline for %d days", days),
				Metric:         "offline_duration",
				Value:          int64(n.OfflineFor.Seconds()),
				Threshold:      int64(th.OfflineDuration.Critical.Seconds()),
				LastSeen:       lastSeen,
				Recommendation: "Check if node is permanently down or needs restart",
			})
		case n.OfflineFor > th.OfflineDuration.Warning:
			out = append(out, Alert{
				Severity:       SeverityWarning,
				Type:           TypeOffline,
				Message:        fmt.Sprintf("Node offline for %d days", days),
				Metric:         "offline_duration",
				Value:          int64(n.OfflineFor.Seconds()),
				Threshold:      int64(th.OfflineDuration.Warning.Seconds()),
				LastSeen:       lastSeen,
				Recommendation: "Monitor node closely",
			})
		}
		return out
	}

	uptime := time.Duration(n.Uptime) * time.Second
	switch {
	case uptime < th.Uptime.Critical:
		out = append(out, Alert{
			Severity:       SeverityCritical,
			Type:           TypeLowUptime,
			Message:        fmt.Sprintf("Very low uptime: %d minutes", n.Uptime/60),
			Metric:         "uptime",
			Value:          n.Uptime,
			Threshold:      int64(th.Uptime.Critical.Seconds()),
			Recommendation: "Node may be restarting frequently",
		})
	case uptime < th.Uptime.Warning:
		out = append(out, Alert{
			Severity:       SeverityWarning,
			Type:           TypeLowUptime,
			Message:        fmt.Sprintf("Low uptime: %d hours", n.Uptime/3600),
			Metric:         "uptime",
			Value:          n.Uptime,
			Threshold:      int64(th.Uptime.Warning.Seconds()),
			Recommendation: "Monitor for stability issues",
		})
	}

	usage := n.StorageUsagePercent
	switch {
	case usage > th.StorageUsage.Critical:
		out = append(out, Alert{
			Severity:       SeverityCritical,
			Type:           TypeStorageCritical,
			Message:        fmt.Sprintf("Storage critically full: %.1f%%", usage),
			Metric:         "storage_usage_percent",
			Value:          usage,
			Threshold:      th.StorageUsage.Critical,
			Recommendation: "Increase storage capacity immediately or risk data loss",
		})
	case usage > th.StorageUsage.Warning:
		out = append(out, Alert{
			Severity:       SeverityWarning,
			Type:           TypeStorageWarning,
			Message:        fmt.Sprintf("Storage filling up: %.1f%%", usage),
			Metric:         "storage_usage_percent",
			Value:          usage,
			Threshold:      th.StorageUsage.Warning,
			Recommendation: "Plan to increase storage capacity soon",
		})
	}

	if n.Version != "" {
		latest := e.latest()
		lag := version.Distance(n.Version, latest)
		switch {
		case lag >= th.VersionBehind.Critical:
			out = append(out, Alert{
				Severity:       SeverityCritical,
				Type:           TypeVersionOutdated,
				Message:        fmt.Sprintf("Running very old version: %s (latest: %s)", n.Version, latest),
				Metric:         "version",
				Value:          n.Version,
				Threshold:      latest,
				Recommendation: "Upgrade to latest version immediately for security and features",
			})
		case lag >= th.VersionBehind.Warning:
			out = append(out, Alert{
				Severity:       SeverityWarning,
				Type:           TypeVersionBehind,
				Message:        fmt.Sprintf("Running old version: %s (latest: %s)", n.Version, latest),
				Metric:         "version",
				Value:          n.Version,
				Threshold:      latest,
				Recommendation: "Upgrade to latest version soon",
			})
		}
	}

	switch {
	case n.PeerCount <= th.PeerCount.Critical:
		out = append(out, Alert{
			Severity:       SeverityCritical,
			Type:           TypeIsolated,
			Message:        fmt.Sprintf("Node isolated with only %d peer(s)", n.PeerCount),
			Metric:         "peer_count",
			Value:          n.PeerCount,
			Threshold:      th.PeerCount.Critical,
			Recommendation: "Check network configuration and firewall settings",
		})
	case n.PeerCount <= th.PeerCount.Warning:
		out = append(out, Alert{
			Severity:       SeverityWarning,
			Type:           TypeWeakConnectivity,
			Message:        fmt.Sprintf("Weak connectivity with only %d peers", n.PeerCount),
			Metric:         "peer_count",
			Value:          n.PeerCount,
			Threshold:      th.PeerCount.Warning,
			Recommendation: "Improve network connectivity for better reliability",
		})
	}

	if usage < th.Underutilized {
		out = append(out, Alert{
			Severity:       SeverityInfo,
			Type:           TypeUnderutilized,
			Message:        fmt.Sprintf("Storage underutilized: %.1f%%", usage),
			Metric:         "storage_usage_percent",
			Value:          usage,
			Threshold:      th.Underutilized,
			Recommendation: "Node may need more network usage or has excess capacity",
		})
	}

	if flaps, ok := e.detectFlapping(window); ok {
		out = append(out, Alert{
			Severity:       SeverityWarning,
			Type:           TypeGossipFlapping,
			Message:        "Node frequently appears/disappears from gossip",
			Metric:         "gossip_consistency",
			Value:          flaps,
			Threshold:      th.FlapTransitions,
			Recommendation: "Check for network instability or node restarts",
		})
	}

	return out
}

func (e Engine) latest() string {
	if e.LatestVersion == "" {
		return config.DefaultLatestVersion
	}
	return e.LatestVersion
}

func (e Engine) detectFlapping(window []history.NodeSample) (int, bool) {
	minSamples, limit := e.Thresholds.FlapMinSamples, e.Thresholds.FlapTransitions
	if len(window) < minSamples {
		return 0, false
	}
	n := Transitions(window)
	return n, n > limit
}

// DetectFlapping reports the number of online/offline transitions in
// window and whether it exceeds the default limit. Windows shorter than
// the default minimum never flap.
func DetectFlapping(window []history.NodeSample) (int, bool) {
	return NewEngine("").detectFlapping(window)
}

// Transitions counts online state changes between consecutive samples.
func Transitions(window []history.NodeSample) int {
	var n int
	for i := 1; i < len(window); i++ {
		if window[i].Online != window[i-1].Online {
			n++
		}
	}
	return n
}
