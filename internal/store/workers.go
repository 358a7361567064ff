package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/durable/internal/oplog"
)

// ErrWorkerExists is returned when registering a worker id that is taken.
var ErrWorkerExists = errors.New("worker already exists")

// Worker is a registry row. Parent and ForkedAt are set for forked workers.
type Worker struct {
	ID        oplog.WorkerID
	Component string
	Parent    oplog.WorkerID
	ForkedAt  oplog.Index
	CreatedAt time.Time
}

// Registry tracks which workers exist and where forked workers came from.
type Registry interface {
	CreateWorker(ctx context.Context, w Worker) error
	GetWorker(ctx context.Context, id oplog.WorkerID) (Worker, error)
	ListWorkers(ctx context.Context) ([]Worker, error)
	DeleteWorker(ctx context.Context, id oplog.WorkerID) error
}

// Backend is everything a node needs from storage.
type Backend interface {
	Registry
	oplog.Storage
	oplog.Copier
	oplog.BlobStorage
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Memory)(nil)
)

// IsFork reports whether the worker was created by forking another.
func (w Worker) IsFork() bool {
	return w.Parent != ""
}

// CreateWorker registers a worker. It fails with ErrWorkerExists if the id
// is taken.
func (s *Store) CreateWorker(ctx context.Context, w Worker) error {
	if err := w.ID.Validate(); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, component, parent_id, forked_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(w.ID),
		w.Component,
		nullString(string(w.Parent)),
		nullIndex(w.ForkedAt),
		w.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("create worker %s: %w", w.ID, ErrWorkerExists)
		}
		return fmt.Errorf("create worker %s: %w", w.ID, err)
	}
	return nil
}

// GetWorker returns the registry row for id, or oplog.ErrWorkerNotFound.
func (s *Store) GetWorker(ctx context.Context, id oplog.WorkerID) (Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT worker_id, component, parent_id, forked_at, created_at
		FROM workers WHERE worker_id = ?
	`, string(id))
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Worker{}, fmt.Errorf("get worker %s: %w", id, oplog.ErrWorkerNotFound)
	}
	if err != nil {
		return Worker{}, fmt.Errorf("get worker %s: %w", id, err)
	}
	return w, nil
}

// ListWorkers returns every registered worker ordered by id.
func (s *Store) ListWorkers(ctx context.Context) ([]Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, component, parent_id, forked_at, created_at
		FROM workers
		ORDER BY worker_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	workers := []Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return workers, nil
}

// DeleteWorker removes a worker and, through the foreign key, its oplog.
func (s *Store) DeleteWorker(ctx context.Context, id oplog.WorkerID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete worker %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete worker %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete worker %s: %w", id, oplog.ErrWorkerNotFound)
	}
	return nil
}

// KindCounts returns how many entries of each kind a worker's oplog holds.
func (s *Store) KindCounts(ctx context.Context, id oplog.WorkerID) (map[oplog.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM oplog_entries
		WHERE worker_id = ?
		GROUP BY kind
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("count kinds: %w", err)
	}
	defer rows.Close()

	counts := map[oplog.Kind]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		counts[oplog.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}
	return counts, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorker(sc scanner) (Worker, error) {
	var (
		id, component, createdAt string
		parent                   sql.NullString
		forkedAt                 sql.NullInt64
	)
	if err := sc.Scan(&id, &component, &parent, &forkedAt, &createdAt); err != nil {
		return Worker{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Worker{}, fmt.Errorf("worker %s: parse created_at: %w", id, err)
	}
	w := Worker{
		ID:        oplog.WorkerID(id),
		Component: component,
		Parent:    oplog.WorkerID(parent.String),
		CreatedAt: created,
	}
	if forkedAt.Valid {
		w.ForkedAt = oplog.IndexFromUint64(uint64(forkedAt.Int64))
	}
	return w, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullIndex(idx oplog.Index) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(idx), Valid: idx != oplog.None}
}

func isConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
