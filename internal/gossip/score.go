package gossip

import "github.com/xtxerr/podwatch/config"

// Classification of an address's gossip stability.
type Classification string

const (
	Stable   Classification = "stable"
	Flapping Classification = "flapping"
)

// ConsistencyScore returns appearances / (appearances + disappearances),
// or 1.0 when the address has never been counted.
func ConsistencyScore(appearances, disappearances int64) float64 {
	if appearances < 0 {
		appearances = 0
	}
	if disappearances < 0 {
		disappearances = 0
	}
	total := appearances + disappearances
	if total == 0 {
		return 1.0
	}
	return float64(appearances) / float64(total)
}

// Classify labels a score as flapping below the default threshold.
func Classify(score float64) Classification {
	return ClassifyWith(score, config.DefaultFlappingThreshold)
}

// ClassifyWith labels a score against an explicit threshold.
func ClassifyWith(score, threshold float64) Classification {
	if score < threshold {
		return Flapping
	}
	return Stable
}

// Counters is the per-address gossip state kept by the registry.
type Counters struct {
	Address        string
	Appearances    int64
	Disappearances int64
}

// Score returns the counters' consistency score.
func (c Counters) Score() float64 {
	return ConsistencyScore(c.Appearances, c.Disappearances)
}

// Summary is the network-wide gossip consistency view.
type Summary struct {
	TotalNodes          int     `json:"total_nodes"`
	AverageScore        float64 `json:"avg_consistency_score"`
	FlappingNodes       int     `json:"flapping_nodes"`
	StableNodes         int     `json:"stable_nodes"`
	TotalAppearances    int64   `json:"total_appearances"`
	TotalDisappearances int64   `json:"total_disappearances"`
	Health              string  `json:"network_gossip_health"`
}

// Summarize aggregates per-address counters.
func Summarize(nodes []Counters) Summary {
	s := Summary{TotalNodes: len(nodes)}
	if len(nodes) == 0 {
		s.AverageScore = 1.0
		s.Health = healthLabel(1.0)
		return s
	}

	var total float64
	for _, n := range nodes {
		score := n.Score()
		total += score
		s.TotalAppearances += n.Appearances
		s.TotalDisappearances += n.Disappearances
		if Classify(score) == Flapping {
			s.FlappingNodes++
		} else {
			s.StableNodes++
		}
	}

	s.AverageScore = total / float64(len(nodes))
	s.Health = healthLabel(s.AverageScore)
	return s
}

func healthLabel(avg float64) string {
	switch {
	case avg >= 0.9:
		return "excellent"
	case avg >= 0.8:
		return "good"
	case avg >= 0.7:
		return "fair"
	default:
		return "poor"
	}
}
