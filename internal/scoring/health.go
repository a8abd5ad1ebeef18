package scoring

// HealthStatus classifies a network health score.
type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Fair     HealthStatus = "fair"
	Degraded HealthStatus = "degraded"
	Critical HealthStatus = "critical"
	Unknown  HealthStatus = "unknown"
)

// Node is one pod as seen by the network health computation.
type Node struct {
	Attributes
	Online bool
}

// HealthFactors holds the network health components.
type HealthFactors struct {
	Availability       float64 `json:"availability"`
	VersionConsistency float64 `json:"version_consistency"`
	NodeQuality        float64 `json:"node_quality"`
	Connectivity       float64 `json:"connectivity"`
}

// NetworkHealth is the 0..100 health of the whole network.
type NetworkHealth struct {
	Score       float64       `json:"health_score"`
	Status      HealthStatus  `json:"status"`
	Factors     HealthFactors `json:"factors"`
	TotalNodes  int           `json:"total_nodes"`
	OnlineNodes int           `json:"online_nodes"`
}

// NetworkHealth scores the network from every known node:
// availability(30) + version consistency(25) + node quality(25) +
// connectivity(20). Only online nodes feed the last three.
func (e Engine) NetworkHealth(nodes []Node) NetworkHealth {
	if len(nodes) == 0 {
		return NetworkHealth{Status: Unknown}
	}

	h := NetworkHealth{TotalNodes: len(nodes)}

	versions := make(map[string]int)
	var quality float64
	var peers int
	for _, n := range nodes {
		if !n.Online {
			continue
		}
		h.OnlineNodes++

		v := n.Version
		if v == "" {
			v = "unknown"
		}
		versions[v]++
		quality += e.Score(n.Attributes).Confidence.Composite
		peers += n.PeerCount
	}

	h.Factors.Availability = round2(float64(h.OnlineNodes) / float64(h.TotalNodes) * 30)

	if h.OnlineNodes > 0 {
		online := float64(h.OnlineNodes)

		var top int
		for _, c := range versions {
			if c > top {
				top = c
			}
		}
		h.Factors.VersionConsistency = round2(float64(top) / online * 25)
		h.Factors.NodeQuality = round2(quality / online / 100 * 25)

		avgPeers := float64(peers) / online
		if avgPeers > 3 {
			avgPeers = 3
		}
		h.Factors.Connectivity = round2(avgPeers / 3 * 20)
	}

	h.Score = round2(h.Factors.Availability + h.Factors.VersionConsistency +
		h.Factors.NodeQuality + h.Factors.Connectivity)
	h.Status = healthStatusOf(h.Score)
	return h
}

func healthStatusOf(score float64) HealthStatus {
	switch {
	case score >= 80:
		return Healthy
	case score >= 60:
		return Fair
	case score >= 40:
		return Degraded
	default:
		return Critical
	}
}
