package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xtxerr/podwatch/internal/pods"
)

// SaveSnapshot overwrites the current snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *pods.Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	updated := time.Unix(snap.Summary.LastUpdated, 0).UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshot (id, run_id, updated_at, body)
		VALUES (1, ?, ?, ?)
	`, snap.Summary.RunID, updated, string(body))
	if err != nil {
		return persist("save snapshot", err)
	}
	return nil
}

// LoadSnapshot returns the current snapshot, or an ErrNotFound error when
// no cycle has completed yet.
func (s *Store) LoadSnapshot(ctx context.Context) (*pods.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshot WHERE id = 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, persist("load snapshot", err)
	}

	var snap pods.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, persist("decode snapshot", err)
	}
	return &snap, nil
}
