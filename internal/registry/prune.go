package registry

import (
	"context"
	"time"
)

// PruneResult reports one prune run.
type PruneResult struct {
	Cutoff  time.Time `json:"cutoff"`
	DryRun  bool      `json:"dry_run"`
	Matched int       `json:"matched"`
	Deleted int64     `json:"deleted"`
}

// PruneOlderThan deletes entries last seen more than olderThan before now.
// With dryRun set it only counts the graveyard. A non-positive olderThan
// uses the default retention.
func PruneOlderThan(ctx context.Context, s Store, now time.Time, olderThan time.Duration, dryRun bool) (PruneResult, error) {
	res := PruneResult{Cutoff: Cutoff(now, olderThan), DryRun: dryRun}

	candidates, err := s.Graveyard(ctx, res.Cutoff, 0)
	if err != nil {
		return res, err
	}
	res.Matched = len(candidates)
	if dryRun || res.Matched == 0 {
		return res, nil
	}

	res.Deleted, err = s.Prune(ctx, res.Cutoff)
	return res, err
}
