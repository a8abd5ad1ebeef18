package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a map-backed Store for rule-level tests.
type memStore struct {
	entries map[string]Entry
	pruned  int
}

func (m *memStore) Get(_ context.Context, address string) (*Entry, error) {
	e, ok := m.entries[address]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) List(context.Context, ListOptions) ([]Entry, error) {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) Count(context.Context) (int, error) { return len(m.entries), nil }

func (m *memStore) Graveyard(_ context.Context, cutoff time.Time, _ int) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		if e.LastSeen.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, u Update) (Entry, error) {
	var existing *Entry
	if e, ok := m.entries[u.Pod.Key()]; ok {
		existing = &e
	}
	e := Apply(existing, u)
	m.entries[e.Address] = e
	return e, nil
}

func (m *memStore) RecordDrop(_ context.Context, address string, now time.Time) error {
	if e, ok := m.entries[address]; ok {
		m.entries[address] = ApplyDrop(e, now)
	}
	return nil
}

func (m *memStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.pruned++
	var n int64
	for addr, e := range m.entries {
		if e.LastSeen.Before(cutoff) {
			delete(m.entries, addr)
			n++
		}
	}
	return n, nil
}

func TestPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100*86400, 0).UTC()

	newStore := func() *memStore {
		m := &memStore{entries: map[string]Entry{}}
		for addr, ago := range map[string]time.Duration{
			"fresh": time.Hour,
			"old":   10 * 24 * time.Hour,
			"older": 40 * 24 * time.Hour,
		} {
			ts := now.Add(-ago).Unix()
			_, err := m.Upsert(ctx, Update{Pod: merged(addr, ts, "vp1"), Now: now})
			require.NoError(t, err)
		}
		return m
	}

	t.Run("dry run", func(t *testing.T) {
		m := newStore()
		res, err := PruneOlderThan(ctx, m, now, 7*24*time.Hour, true)
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.Equal(t, 2, res.Matched)
		assert.Zero(t, res.Deleted)
		assert.Zero(t, m.pruned)
		assert.Len(t, m.entries, 3)
	})

	t.Run("delete", func(t *testing.T) {
		m := newStore()
		res, err := PruneOlderThan(ctx, m, now, 30*24*time.Hour, false)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-30*24*time.Hour), res.Cutoff)
		assert.Equal(t, 1, res.Matched)
		assert.Equal(t, int64(1), res.Deleted)
		assert.NotContains(t, m.entries, "older")
	})

	t.Run("nothing to delete", func(t *testing.T) {
		m := newStore()
		res, err := PruneOlderThan(ctx, m, now, 0, false)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-90*24*time.Hour), res.Cutoff)
		assert.Zero(t, res.Matched)
		assert.Zero(t, m.pruned)
	})
}
