package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KV is the SQLite key/value table that workers reach through the kv host
// functions when no Redis address is configured.
type KV struct {
	db *sql.DB
}

// KV returns the key/value view of the database.
func (s *Store) KV() *KV {
	return &KV{db: s.db}
}

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

func (k *KV) Put(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}
