package history

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/gossip"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/pods"
)

var log = logging.Component("history")

// Snapshotter appends one Point and the cycle's node samples per cycle.
type Snapshotter struct {
	store Store
}

// NewSnapshotter creates a snapshotter writing to store.
func NewSnapshotter(store Store) *Snapshotter {
	return &Snapshotter{store: store}
}

// Cycle is the input of one Record call.
type Cycle struct {
	RunID   string
	Merged  []pods.MergedPod
	Results []pods.VantageResult
	Changes gossip.Changes
	Now     time.Time
}

// Record writes the cycle's point and node samples. A sample write failure
// does not prevent the point from being written; both failures are
// returned together.
func (s *Snapshotter) Record(ctx context.Context, c Cycle) (Point, error) {
	point := BuildPoint(c.RunID, c.Merged, c.Results, len(c.Changes.Appeared), len(c.Changes.Dropped), c.Now)
	samples := BuildNodeSamples(c.Merged, c.Changes.Dropped, c.Now)

	var err error
	if perr := s.store.AppendPoint(ctx, point); perr != nil {
		err = multierr.Append(err, errors.NewPersistence("append history point", perr))
	}
	if serr := s.store.AppendNodeSamples(ctx, samples); serr != nil {
		err = multierr.Append(err, errors.NewPersistence("append node samples", serr))
	}

	logging.FromContext(ctx, log).Debug("history recorded",
		"pods", point.TotalPods,
		"samples", len(samples),
		"errors", len(multierr.Errors(err)))

	return point, err
}
