package pods

import "sort"

// MergeResult is the deduplicated view of one cycle's observations.
// It is built fresh for every cycle and never shared across cycles.
type MergeResult struct {
	raw   []Observation
	order []string
	byKey map[string]*MergedPod
}

// Merge deduplicates observations by address. For an address reported more
// than once, the observation with the strictly latest LastSeenTimestamp wins;
// ties keep the earlier one. PeerSources collects every distinct reporter in
// first-seen order.
func Merge(observations []Observation) *MergeResult {
	r := &MergeResult{
		raw:   make([]Observation, 0, len(observations)),
		byKey: make(map[string]*MergedPod, len(observations)),
	}

	for _, obs := range observations {
		key := obs.Key()
		if key == "" {
			continue
		}
		r.raw = append(r.raw, obs)

		existing, ok := r.byKey[key]
		if !ok {
			mp := &MergedPod{Observation: obs}
			if obs.Source != "" {
				mp.PeerSources = []string{obs.Source}
			}
			r.byKey[key] = mp
			r.order = append(r.order, key)
			continue
		}

		if obs.Source != "" && !contains(existing.PeerSources, obs.Source) {
			existing.PeerSources = append(existing.PeerSources, obs.Source)
		}
		if obs.LastSeenTimestamp > existing.LastSeenTimestamp {
			existing.Observation = obs
		}
	}

	// Pods reported without a source still count as seen once.
	for _, key := range r.order {
		mp := r.byKey[key]
		if len(mp.PeerSources) == 0 {
			mp.PeerSources = []string{"unknown"}
		}
	}

	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Raw returns every keyable observation in input order.
func (r *MergeResult) Raw() []Observation {
	out := make([]Observation, len(r.raw))
	copy(out, r.raw)
	return out
}

// Unique returns one merged pod per address in first-seen order.
func (r *MergeResult) Unique() []MergedPod {
	out := make([]MergedPod, 0, len(r.order))
	for _, key := range r.order {
		mp := *r.byKey[key]
		mp.PeerSources = append([]string(nil), mp.PeerSources...)
		out = append(out, mp)
	}
	return out
}

// Get returns the merged pod for an address.
func (r *MergeResult) Get(address string) (MergedPod, bool) {
	mp, ok := r.byKey[address]
	if !ok {
		return MergedPod{}, false
	}
	out := *mp
	out.PeerSources = append([]string(nil), mp.PeerSources...)
	return out, true
}

// Len returns the number of unique addresses.
func (r *MergeResult) Len() int {
	return len(r.order)
}

// Addresses returns the address set of this cycle.
func (r *MergeResult) Addresses() map[string]struct{} {
	set := make(map[string]struct{}, len(r.order))
	for _, key := range r.order {
		set[key] = struct{}{}
	}
	return set
}

// SortedAddresses returns the addresses in lexical order.
func (r *MergeResult) SortedAddresses() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}
