// Package gossip tracks how stably each address is visible across cycles.
//
// The tracker keeps a single generation of state, the previous cycle's
// address set, and turns each new set into appear/drop deltas that the
// registry accumulates into a consistency score.
package gossip

import (
	"sort"
	"sync"
	"time"
)

// Changes are the per-address deltas between two consecutive cycles.
type Changes struct {
	At       time.Time
	Appeared []string
	Dropped  []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Appeared) == 0 && len(c.Dropped) == 0
}

// Tracker holds the previous cycle's address set.
type Tracker struct {
	mu     sync.Mutex
	prev   map[string]struct{}
	primed bool
}

// NewTracker creates an empty tracker. The first Observe reports every
// address as appeared unless the tracker was primed.
func NewTracker() *Tracker {
	return &Tracker{prev: make(map[string]struct{})}
}

// Prime seeds the previous set, typically from the last persisted snapshot.
func (t *Tracker) Prime(addrs map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prev = copySet(addrs)
	t.primed = true
}

// Primed reports whether Prime or Observe has run.
func (t *Tracker) Primed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primed
}

// Observe diffs curr against the previous set and replaces it.
func (t *Tracker) Observe(curr map[string]struct{}, now time.Time) Changes {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := Changes{At: now}
	for addr := range curr {
		if _, ok := t.prev[addr]; !ok {
			ch.Appeared = append(ch.Appeared, addr)
		}
	}
	for addr := range t.prev {
		if _, ok := curr[addr]; !ok {
			ch.Dropped = append(ch.Dropped, addr)
		}
	}
	sort.Strings(ch.Appeared)
	sort.Strings(ch.Dropped)

	t.prev = copySet(curr)
	t.primed = true
	return ch
}

// Previous returns a copy of the previous address set.
func (t *Tracker) Previous() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySet(t.prev)
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
