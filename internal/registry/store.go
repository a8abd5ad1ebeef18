package registry

import (
	"context"
	"time"

	"github.com/xtxerr/podwatch/config"
)

// ListOptions pages a registry listing. Entries are ordered by LastSeen,
// newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Reader is the read side used by the query layer.
type Reader interface {
	Get(ctx context.Context, address string) (*Entry, error)
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	Count(ctx context.Context) (int, error)

	// Graveyard lists entries whose LastSeen is before cutoff.
	Graveyard(ctx context.Context, cutoff time.Time, limit int) ([]Entry, error)
}

// Store persists registry entries. Upsert and RecordDrop are applied per
// address; there is no whole-network transaction.
type Store interface {
	Reader

	// Upsert applies u to the stored entry for its address.
	Upsert(ctx context.Context, u Update) (Entry, error)

	// RecordDrop applies ApplyDrop to an existing entry. Unknown addresses
	// are ignored.
	RecordDrop(ctx context.Context, address string, now time.Time) error

	// Prune deletes entries whose LastSeen is before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cutoff returns now - olderThan, falling back to the default retention.
func Cutoff(now time.Time, olderThan time.Duration) time.Time {
	if olderThan <= 0 {
		olderThan = config.DefaultRegistryRetention
	}
	return now.Add(-olderThan)
}
