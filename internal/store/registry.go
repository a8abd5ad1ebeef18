package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/registry"
)

const registryColumns = `address, pubkey, first_seen, last_seen, last_checked, created_at,
	source_ips, last_ip, rpc_port, is_public, status,
	storage_committed, storage_used, storage_usage_percent, uptime, version,
	gossip_appearances, gossip_disappearances, last_gossip_appearance, last_gossip_drop,
	consistency_score`

// Registry returns the registry view of the store.
func (s *Store) Registry() registry.Store {
	return registryStore{s}
}

type registryStore struct {
	s *Store
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*registry.Entry, error) {
	var e registry.Entry
	var pubkey, lastIP, version sql.NullString
	var sourceIPs string
	var rpcPort sql.NullInt64
	var isPublic sql.NullBool
	var status string
	var lastAppear, lastDrop sql.NullTime

	err := row.Scan(
		&e.Address, &pubkey, &e.FirstSeen, &e.LastSeen, &e.LastChecked, &e.CreatedAt,
		&sourceIPs, &lastIP, &rpcPort, &isPublic, &status,
		&e.StorageCommitted, &e.StorageUsed, &e.StorageUsagePercent, &e.Uptime, &version,
		&e.GossipAppearances, &e.GossipDisappearances, &lastAppear, &lastDrop,
		&e.ConsistencyScore,
	)
	if err != nil {
		return nil, err
	}

	e.Pubkey = pubkey.String
	e.LastIP = lastIP.String
	e.Version = version.String
	e.RPCPort = int(rpcPort.Int64)
	e.Status = registry.Status(status)
	if isPublic.Valid {
		b := isPublic.Bool
		e.IsPublic = &b
	}
	e.FirstSeen = e.FirstSeen.UTC()
	e.LastSeen = e.LastSeen.UTC()
	e.LastChecked = e.LastChecked.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastGossipAppearance = fromNullTime(lastAppear)
	e.LastGossipDrop = fromNullTime(lastDrop)

	if err := json.Unmarshal([]byte(sourceIPs), &e.SourceIPs); err != nil {
		return nil, fmt.Errorf("decode source_ips for %s: %w", e.Address, err)
	}

	return &e, nil
}

func getEntryTx(ctx context.Context, tx *sql.Tx, address string) (*registry.Entry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM registry WHERE address = ?`, address)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func putEntryTx(ctx context.Context, tx *sql.Tx, e registry.Entry) error {
	sources, err := json.Marshal(e.SourceIPs)
	if err != nil {
		return fmt.Errorf("encode source_ips: %w", err)
	}
	if e.SourceIPs == nil {
		sources = []byte("[]")
	}

	var isPublic interface{}
	if e.IsPublic != nil {
		isPublic = *e.IsPublic
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO registry (`+registryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Address, e.Pubkey, e.FirstSeen.UTC(), e.LastSeen.UTC(), e.LastChecked.UTC(), e.CreatedAt.UTC(),
		string(sources), e.LastIP, e.RPCPort, isPublic, string(e.Status),
		e.StorageCommitted, e.StorageUsed, e.StorageUsagePercent, e.Uptime, e.Version,
		e.GossipAppearances, e.GossipDisappearances, nullTime(e.LastGossipAppearance), nullTime(e.LastGossipDrop),
		e.ConsistencyScore,
	)
	return err
}

// Upsert reads the current entry, applies u and writes the result in one
// transaction.
func (r registryStore) Upsert(ctx context.Context, u registry.Update) (registry.Entry, error) {
	if err := r.s.checkOpen(); err != nil {
		return registry.Entry{}, err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	var out registry.Entry
	err := r.s.TransactionContext(ctx, func(tx *sql.Tx) error {
		existing, err := getEntryTx(ctx, tx, u.Pod.Key())
		if err != nil {
			return err
		}
		out = registry.Apply(existing, u)
		return putEntryTx(ctx, tx, out)
	})
	if err != nil {
		return registry.Entry{}, persist("upsert "+u.Pod.Key(), err)
	}
	return out, nil
}

// RecordDrop increments the disappearance counter of an existing entry.
func (r registryStore) RecordDrop(ctx context.Context, address string, now time.Time) error {
	if err := r.s.checkOpen(); err != nil {
		return err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	err := r.s.TransactionContext(ctx, func(tx *sql.Tx) error {
		existing, err := getEntryTx(ctx, tx, address)
		if err != nil || existing == nil {
			return err
		}
		return putEntryTx(ctx, tx, registry.ApplyDrop(*existing, now))
	})
	return persist("record drop "+address, err)
}

// Get returns the entry for address.
func (r registryStore) Get(ctx context.Context, address string) (*registry.Entry, error) {
	if err := r.s.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	row := r.s.db.QueryRowContext(ctx, `SELECT `+registryColumns+` FROM registry WHERE address = ?`, address)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("registry entry", address)
	}
	if err != nil {
		return nil, persist("get "+address, err)
	}
	return e, nil
}

// List returns entries ordered by last_seen, newest first.
func (r registryStore) List(ctx context.Context, opts registry.ListOptions) ([]registry.Entry, error) {
	query := `SELECT ` + registryColumns + ` FROM registry ORDER BY last_seen DESC, address`
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return r.query(ctx, "list registry", query)
}

// Count returns the number of entries.
func (r registryStore) Count(ctx context.Context) (int, error) {
	if err := r.s.checkOpen(); err != nil {
		return 0, err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	var n int
	if err := r.s.db.QueryRowContext(ctx, `SELECT count(*) FROM registry`).Scan(&n); err != nil {
		return 0, persist("count registry", err)
	}
	return n, nil
}

// Graveyard lists entries last seen before cutoff, oldest first.
func (r registryStore) Graveyard(ctx context.Context, cutoff time.Time, limit int) ([]registry.Entry, error) {
	query := `SELECT ` + registryColumns + ` FROM registry WHERE last_seen < ? ORDER BY last_seen, address`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return r.query(ctx, "graveyard", query, cutoff.UTC())
}

// Prune deletes entries last seen before cutoff.
func (r registryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := r.s.checkOpen(); err != nil {
		return 0, err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	res, err := r.s.db.ExecContext(ctx, `DELETE FROM registry WHERE last_seen < ?`, cutoff.UTC())
	if err != nil {
		return 0, persist("prune registry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persist("prune registry", err)
	}

	log.Info("registry pruned", "cutoff", cutoff, "deleted", n)
	return n, nil
}

func (r registryStore) query(ctx context.Context, op, query string, args ...interface{}) ([]registry.Entry, error) {
	if err := r.s.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := r.s.queryContext(ctx)
	defer cancel()

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persist(op, err)
	}
	defer rows.Close()

	var out []registry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, persist(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, persist(op, err)
	}
	return out, nil
}
