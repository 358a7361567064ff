package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/oplog"
)

var _ oplog.BlobStorage = (*Store)(nil)

// Put stores data under a fresh payload id.
func (s *Store) Put(ctx context.Context, data []byte) (oplog.ExternalRef, error) {
	ref := oplog.ExternalRef{ID: oplog.NewPayloadID(), Hash: ir.ContentHash(data)}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (payload_id, content_hash, data)
		VALUES (?, ?, ?)
	`, ref.ID.String(), ref.Hash, data)
	if err != nil {
		return oplog.ExternalRef{}, fmt.Errorf("put blob: %w", err)
	}
	return ref, nil
}

// Get returns the bytes stored under id. The caller verifies the hash.
func (s *Store) Get(ctx context.Context, id oplog.PayloadID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM blobs WHERE payload_id = ?
	`, id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get blob %s: %w", id, oplog.ErrPayloadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return data, nil
}
