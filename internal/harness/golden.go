package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/durable/internal/ir"
)

// Snapshot is the canonical JSON form of a run's trace:
//
//	{"scenario":"...","trace":[{"index":1,"kind":"create","name":"demo"},...]}
//
// Only the shape of the oplog is kept. Timestamps and payloads change from
// run to run and are left out.
func Snapshot(scenario string, trace []TraceEntry) ([]byte, error) {
	return ir.MarshalCanonical(snapshotValue(scenario, trace))
}

// Digest identifies a trace by the hash of its snapshot.
func Digest(scenario string, trace []TraceEntry) (string, error) {
	return ir.TraceDigest(snapshotValue(scenario, trace))
}

func snapshotValue(scenario string, trace []TraceEntry) map[string]any {
	entries := make([]any, len(trace))
	for i, te := range trace {
		m := map[string]any{
			"index": uint64(te.Index),
			"kind":  string(te.Kind),
		}
		if te.Name != "" {
			m["name"] = te.Name
		}
		if te.Deleted {
			m["deleted"] = true
		}
		entries[i] = m
	}
	return map[string]any{
		"scenario": scenario,
		"trace":    entries,
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// AssertGolden compares the trace of result against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(result.Scenario, result.Trace)
	if err != nil {
		return err
	}
	newGoldie(t).Assert(t, name, snapshot)
	return nil
}

// RunWithGolden runs scenario and compares its trace with the golden file
// named after it.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}
