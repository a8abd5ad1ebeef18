package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/errors"
)

// RetentionManager prunes history older than the retention window,
// archiving the pruned rows to Parquet first when an archive is set.
type RetentionManager struct {
	mu        sync.Mutex
	store     Store
	archive   *Archive
	retention time.Duration
	clock     clock.Clock
	stats     RetentionStats
}

// RetentionStats holds cumulative prune statistics.
type RetentionStats struct {
	LastRunTime    time.Time
	Runs           int64
	PointsDeleted  int64
	SamplesDeleted int64
	FilesWritten   int64
	Errors         int64
}

// CleanupResult holds the result of one prune.
type CleanupResult struct {
	Cutoff         time.Time `json:"cutoff"`
	PointsDeleted  int64     `json:"points_deleted"`
	SamplesDeleted int64     `json:"samples_deleted"`
	ArchivedFiles  []string  `json:"archived_files,omitempty"`
	DryRun         bool      `json:"dry_run"`
}

// NewRetentionManager creates a manager. archive may be nil.
func NewRetentionManager(store Store, archive *Archive, retention time.Duration, clk clock.Clock) *RetentionManager {
	if retention <= 0 {
		retention = config.DefaultHistoryRetention
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RetentionManager{
		store:     store,
		archive:   archive,
		retention: retention,
		clock:     clk,
	}
}

// Retention returns the configured window.
func (m *RetentionManager) Retention() time.Duration {
	return m.retention
}

// RunCleanup archives and deletes history older than the retention window.
// When archiving fails nothing is deleted.
func (m *RetentionManager) RunCleanup(ctx context.Context) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cutoff := now.Add(-m.retention)
	result := CleanupResult{Cutoff: cutoff}

	m.stats.LastRunTime = now
	m.stats.Runs++

	if m.archive != nil {
		files, err := m.archiveBefore(ctx, cutoff)
		result.ArchivedFiles = files
		m.stats.FilesWritten += int64(len(files))
		if err != nil {
			m.stats.Errors++
			return result, err
		}
	}

	points, samples, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		m.stats.Errors++
		return result, errors.NewPersistence("delete history", err)
	}

	result.PointsDeleted = points
	result.SamplesDeleted = samples
	m.stats.PointsDeleted += points
	m.stats.SamplesDeleted += samples

	log.Info("history pruned",
		"cutoff", cutoff,
		"points", points,
		"samples", samples,
		"archived_files", len(result.ArchivedFiles))

	return result, nil
}

// DryRun reports what RunCleanup would delete without changing anything.
func (m *RetentionManager) DryRun(ctx context.Context) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.retention)
	result := CleanupResult{Cutoff: cutoff, DryRun: true}

	points, err := m.store.PointsBefore(ctx, cutoff)
	if err != nil {
		return result, errors.NewPersistence("list expired points", err)
	}
	samples, err := m.store.NodeSamplesBefore(ctx, cutoff)
	if err != nil {
		return result, errors.NewPersistence("list expired samples", err)
	}

	result.PointsDeleted = int64(len(points))
	result.SamplesDeleted = int64(len(samples))
	return result, nil
}

func (m *RetentionManager) archiveBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var files []string

	points, err := m.store.PointsBefore(ctx, cutoff)
	if err != nil {
		return files, errors.NewPersistence("list expired points", err)
	}
	path, err := m.archive.WritePoints(cutoff, points)
	if err != nil {
		return files, fmt.Errorf("archive points: %w", err)
	}
	if path != "" {
		files = append(files, path)
	}

	samples, err := m.store.NodeSamplesBefore(ctx, cutoff)
	if err != nil {
		return files, errors.NewPersistence("list expired samples", err)
	}
	path, err = m.archive.WriteNodeSamples(cutoff, samples)
	if err != nil {
		return files, fmt.Errorf("archive node samples: %w", err)
	}
	if path != "" {
		files = append(files, path)
	}

	return files, nil
}

// Stats returns cumulative statistics.
func (m *RetentionManager) Stats() RetentionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
