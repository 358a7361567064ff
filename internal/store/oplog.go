package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/durable/internal/oplog"
)

var (
	_ oplog.Storage = (*Store)(nil)
	_ oplog.Copier  = (*Store)(nil)
)

// Append stores rec at the next index of the worker's oplog. The worker must
// be registered.
func (s *Store) Append(ctx context.Context, worker oplog.WorkerID, rec oplog.Record) (oplog.Index, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oplog.None, fmt.Errorf("append: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := requireWorker(ctx, tx, worker); err != nil {
		return oplog.None, fmt.Errorf("append: %w", err)
	}

	var last int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx), 0) FROM oplog_entries WHERE worker_id = ?
	`, string(worker)).Scan(&last)
	if err != nil {
		return oplog.None, fmt.Errorf("append: read length: %w", err)
	}
	idx := oplog.IndexFromUint64(uint64(last)).Next()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO oplog_entries (worker_id, idx, kind, entry)
		VALUES (?, ?, ?, ?)
	`,
		string(worker),
		int64(idx),
		string(rec.Kind),
		rec.Data,
	)
	if err != nil {
		return oplog.None, fmt.Errorf("append: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return oplog.None, fmt.Errorf("append: commit: %w", err)
	}
	return idx, nil
}

// ReadRange returns the records of [from, to] ordered by index.
func (s *Store) ReadRange(ctx context.Context, worker oplog.WorkerID, from, to oplog.Index) ([]oplog.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, entry FROM oplog_entries
		WHERE worker_id = ? AND idx >= ? AND idx <= ?
		ORDER BY idx ASC
	`, string(worker), int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query oplog: %w", err)
	}
	defer rows.Close()

	records := []oplog.Record{}
	for rows.Next() {
		var (
			idx  int64
			kind string
			data []byte
		)
		if err := rows.Scan(&idx, &kind, &data); err != nil {
			return nil, fmt.Errorf("scan oplog entry: %w", err)
		}
		records = append(records, oplog.Record{
			Index: oplog.IndexFromUint64(uint64(idx)),
			Kind:  oplog.Kind(kind),
			Data:  data,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate oplog: %w", err)
	}
	return records, nil
}

// Length returns the last index of the worker's oplog, or None when the
// worker has no entries.
func (s *Store) Length(ctx context.Context, worker oplog.WorkerID) (oplog.Index, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx), 0) FROM oplog_entries WHERE worker_id = ?
	`, string(worker)).Scan(&last)
	if err != nil {
		return oplog.None, fmt.Errorf("oplog length: %w", err)
	}
	return oplog.IndexFromUint64(uint64(last)), nil
}

// CopyPrefix copies entries 1..upTo of from into the empty oplog of to in
// one transaction. Both workers must be registered.
func (s *Store) CopyPrefix(ctx context.Context, from, to oplog.WorkerID, upTo oplog.Index) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("copy oplog: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, w := range []oplog.WorkerID{from, to} {
		if err := requireWorker(ctx, tx, w); err != nil {
			return fmt.Errorf("copy oplog: %w", err)
		}
	}

	var existing int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM oplog_entries WHERE worker_id = ?
	`, string(to)).Scan(&existing)
	if err != nil {
		return fmt.Errorf("copy oplog: count target: %w", err)
	}
	if existing != 0 {
		return fmt.Errorf("copy oplog: target %s already has %d entries", to, existing)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO oplog_entries (worker_id, idx, kind, entry)
		SELECT ?, idx, kind, entry FROM oplog_entries
		WHERE worker_id = ? AND idx <= ?
	`, string(to), string(from), int64(upTo))
	if err != nil {
		return fmt.Errorf("copy oplog: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("copy oplog: rows affected: %w", err)
	}
	if uint64(n) != upTo.Uint64() {
		return fmt.Errorf("copy oplog: copied %d entries from %s, expected %d", n, from, upTo)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("copy oplog: commit: %w", err)
	}
	return nil
}

func requireWorker(ctx context.Context, tx *sql.Tx, worker oplog.WorkerID) error {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers WHERE worker_id = ?`, string(worker)).Scan(&n)
	if err != nil {
		return fmt.Errorf("lookup worker %s: %w", worker, err)
	}
	if n == 0 {
		return fmt.Errorf("worker %s: %w", worker, oplog.ErrWorkerNotFound)
	}
	return nil
}
