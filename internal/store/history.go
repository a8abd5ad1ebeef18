package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/podwatch/internal/history"
)

const historyColumns = `ts, run_id, total_pnodes, public_pnodes, private_pnodes,
	vantages_total, vantages_failed, total_storage_committed, total_storage_used,
	avg_storage_usage_percent, avg_uptime, avg_peer_count,
	uptime_p50, uptime_p90, uptime_p99, usage_p50, usage_p90, usage_p99,
	version_distribution, appeared, dropped`

const nodeHistoryColumns = `address, ts, online, uptime, storage_usage_percent, peer_count`

// History returns the history view of the store.
func (s *Store) History() history.Store {
	return historyStore{s}
}

type historyStore struct {
	s *Store
}

// AppendPoint inserts one history point. A second point in the same second
// replaces the first.
func (h historyStore) AppendPoint(ctx context.Context, p history.Point) error {
	if err := h.s.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := h.s.queryContext(ctx)
	defer cancel()

	versions, err := json.Marshal(p.VersionDistribution)
	if err != nil {
		return fmt.Errorf("encode version distribution: %w", err)
	}
	if p.VersionDistribution == nil {
		versions = []byte("{}")
	}

	_, err = h.s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Timestamp.UTC(), p.RunID, p.TotalPods, p.PublicPods, p.PrivatePods,
		p.VantagesTotal, p.VantagesFailed, p.TotalStorageCommitted, p.TotalStorageUsed,
		p.AvgStorageUsagePercent, p.AvgUptime, p.AvgPeerCount,
		p.UptimeP50, p.UptimeP90, p.UptimeP99, p.UsageP50, p.UsageP90, p.UsageP99,
		string(versions), p.Appeared, p.Dropped,
	)
	return err
}

func scanPoint(row rowScanner) (history.Point, error) {
	var p history.Point
	var runID sql.NullString
	var versions string
	var up50, up90, up99, us50, us90, us99 sql.NullFloat64

	err := row.Scan(
		&p.Timestamp, &runID, &p.TotalPods, &p.PublicPods, &p.PrivatePods,
		&p.VantagesTotal, &p.VantagesFailed, &p.TotalStorageCommitted, &p.TotalStorageUsed,
		&p.AvgStorageUsagePercent, &p.AvgUptime, &p.AvgPeerCount,
		&up50, &up90, &up99, &us50, &us90, &us99,
		&versions, &p.Appeared, &p.Dropped,
	)
	if err != nil {
		return p, err
	}

	p.Timestamp = p.Timestamp.UTC()
	p.RunID = runID.String
	p.UptimeP50, p.UptimeP90, p.UptimeP99 = up50.Float64, up90.Float64, up99.Float64
	p.UsageP50, p.UsageP90, p.UsageP99 = us50.Float64, us90.Float64, us99.Float64

	p.VersionDistribution = make(map[string]int)
	if err := json.Unmarshal([]byte(versions), &p.VersionDistribution); err != nil {
		return p, fmt.Errorf("decode version distribution: %w", err)
	}
	return p, nil
}

// Points returns points at or after since, oldest first.
func (h historyStore) Points(ctx context.Context, since time.Time) ([]history.Point, error) {
	return h.queryPoints(ctx, "read history",
		`SELECT `+historyColumns+` FROM history WHERE ts >= ? ORDER BY ts`, since.UTC())
}

// PointsBefore returns points older than cutoff, oldest first.
func (h historyStore) PointsBefore(ctx context.Context, cutoff time.Time) ([]history.Point, error) {
	return h.queryPoints(ctx, "read expired history",
		`SELECT `+historyColumns+` FROM history WHERE ts < ? ORDER BY ts`, cutoff.UTC())
}

func (h historyStore) queryPoints(ctx context.Context, op, query string, args ...interface{}) ([]history.Point, error) {
	if err := h.s.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := h.s.queryContext(ctx)
	defer cancel()

	rows, err := h.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persist(op, err)
	}
	defer rows.Close()

	var out []history.Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, persist(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persist(op, err)
	}
	return out, nil
}

// =============================================================================
// Node History
// =============================================================================

// maxSamplesPerInsert bounds the rows of one multi-row INSERT.
// 6 columns * 100 rows = 600 parameters per statement.
const maxSamplesPerInsert = 100

// AppendNodeSamples inserts samples in chunks inside one transaction.
func (h historyStore) AppendNodeSamples(ctx context.Context, samples []history.NodeSample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := h.s.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := h.s.queryContext(ctx)
	defer cancel()

	return h.s.TransactionContext(ctx, func(tx *sql.Tx) error {
		for i := 0; i < len(samples); i += maxSamplesPerInsert {
			end := i + maxSamplesPerInsert
			if end > len(samples) {
				end = len(samples)
			}

			query, args := buildSampleInsert(samples[i:end])
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert node samples: %w", err)
			}
		}
		return nil
	})
}

// buildSampleInsert builds the multi-row INSERT statement.
func buildSampleInsert(samples []history.NodeSample) (string, []interface{}) {
	const columnsPerRow = 6

	args := make([]interface{}, 0, len(samples)*columnsPerRow)

	var query strings.Builder
	query.Grow(100 + len(samples)*16)
	query.WriteString(`INSERT OR REPLACE INTO node_history (` + nodeHistoryColumns + `) VALUES `)

	for i, s := range samples {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?,?,?,?)")
		args = append(args, s.Address, s.Timestamp.UTC(), s.Online, s.Uptime, s.StorageUsagePercent, s.PeerCount)
	}

	return query.String(), args
}

func scanSample(row rowScanner) (history.NodeSample, error) {
	var s history.NodeSample
	var uptime, peers sql.NullInt64
	var usage sql.NullFloat64

	if err := row.Scan(&s.Address, &s.Timestamp, &s.Online, &uptime, &usage, &peers); err != nil {
		return s, err
	}
	s.Timestamp = s.Timestamp.UTC()
	s.Uptime = uptime.Int64
	s.StorageUsagePercent = usage.Float64
	s.PeerCount = int(peers.Int64)
	return s, nil
}

// NodeSamples returns the newest limit samples for address at or after
// since, oldest first.
func (h historyStore) NodeSamples(ctx context.Context, address string, since time.Time, limit int) ([]history.NodeSample, error) {
	query := `SELECT ` + nodeHistoryColumns + ` FROM node_history WHERE address = ? AND ts >= ? ORDER BY ts DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	out, err := h.querySamples(ctx, "read node history", query, address, since.UTC())
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// NodeSamplesBefore returns samples older than cutoff, oldest first.
func (h historyStore) NodeSamplesBefore(ctx context.Context, cutoff time.Time) ([]history.NodeSample, error) {
	return h.querySamples(ctx, "read expired node history",
		`SELECT `+nodeHistoryColumns+` FROM node_history WHERE ts < ? ORDER BY ts, address`, cutoff.UTC())
}

func (h historyStore) querySamples(ctx context.Context, op, query string, args ...interface{}) ([]history.NodeSample, error) {
	if err := h.s.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := h.s.queryContext(ctx)
	defer cancel()

	rows, err := h.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persist(op, err)
	}
	defer rows.Close()

	var out []history.NodeSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, persist(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persist(op, err)
	}
	return out, nil
}

// DeleteBefore removes points and samples older than cutoff.
func (h historyStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	if err := h.s.checkOpen(); err != nil {
		return 0, 0, err
	}
	ctx, cancel := h.s.queryContext(ctx)
	defer cancel()

	var points, samples int64
	err := h.s.TransactionContext(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE ts < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		if points, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM node_history WHERE ts < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("delete node history: %w", err)
		}
		samples, err = res.RowsAffected()
		return err
	})
	return points, samples, err
}
