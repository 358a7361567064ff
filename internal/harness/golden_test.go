package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/oplog"
)

func TestSnapshot_Canonical(t *testing.T) {
	out, err := Snapshot("s", []TraceEntry{
		{Index: 1, Kind: oplog.KindCreate, Name: "demo"},
		{Index: 2, Kind: oplog.KindNoOp, Deleted: true},
		{Index: 3, Kind: oplog.KindJump},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"s","trace":[{"index":1,"kind":"create","name":"demo"},{"deleted":true,"index":2,"kind":"no_op"},{"index":3,"kind":"jump"}]}`,
		string(out))
}

func TestSnapshot_EmptyTrace(t *testing.T) {
	out, err := Snapshot("empty", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario":"empty","trace":[]}`, string(out))
}

func TestDigest_FollowsTrace(t *testing.T) {
	trace := []TraceEntry{{Index: 1, Kind: oplog.KindCreate, Name: "demo"}}

	a, err := Digest("s", trace)
	require.NoError(t, err)
	b, err := Digest("s", trace)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := Digest("s", append(trace, TraceEntry{Index: 2, Kind: oplog.KindNoOp}))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
