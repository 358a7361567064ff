package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/durable/internal/oplog"
)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestWorker(t *testing.T, r Registry, id oplog.WorkerID) {
	t.Helper()
	if err := r.CreateWorker(context.Background(), Worker{ID: id, Component: "test"}); err != nil {
		t.Fatalf("CreateWorker(%s) failed: %v", id, err)
	}
}

// backends returns every Backend implementation under a fresh state, so
// contract tests run against each.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"sqlite": createTestStore(t),
		"memory": NewMemory(),
	}
}

func record(kind oplog.Kind, data string) oplog.Record {
	return oplog.Record{Kind: kind, Data: []byte(data)}
}
