package hostcall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/durability"
	"github.com/roach88/durable/internal/oplog"
)

func TestPutIsNotRepeatedOnReplay(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.host().Put(ctx, "greeting", "hello"))
	assert.Equal(t, 1, e.kv.Writes())
	assert.Equal(t, []oplog.Kind{
		oplog.KindCreate,
		oplog.KindBeginRemoteWrite,
		oplog.KindHostCall,
		oplog.KindEndRemoteWrite,
	}, e.kinds())

	require.NoError(t, e.host().Put(ctx, "greeting", "hello"))
	assert.Equal(t, 1, e.kv.Writes())
	assert.Len(t, e.kinds(), 4)
}

func TestGetReplaysRecordedValue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.kv.Put(ctx, "k", "v1"))

	v, found, err := e.host().Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)

	require.NoError(t, e.kv.Put(ctx, "k", "v2"))
	v, found, err = e.host().Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", v)
}

func TestGetMissingKey(t *testing.T) {
	_, found, err := newEnv(t).host().Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMissingKVIsACallError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	h := e.host()
	h.KV = nil

	_, _, err := h.Get(ctx, "k")
	require.Error(t, err)
	var ce *durability.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrNoKV.Error(), ce.Message)
}

func TestPutAllSharesOneBracket(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pairs := []KVPair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}}

	require.NoError(t, e.host().PutAll(ctx, pairs))
	assert.Equal(t, 3, e.kv.Writes())
	assert.Equal(t, []oplog.Kind{
		oplog.KindCreate,
		oplog.KindBeginRemoteWrite,
		oplog.KindHostCall,
		oplog.KindHostCall,
		oplog.KindHostCall,
		oplog.KindEndRemoteWrite,
	}, e.kinds())

	h := e.host()
	require.NoError(t, h.PutAll(ctx, pairs))
	assert.Equal(t, 3, e.kv.Writes())
	assert.True(t, h.State.IsLive())
}

func TestPutAllUnderPersistNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	h := e.host()
	h.SetPersistenceLevel(durability.PersistNothing)

	require.NoError(t, h.PutAll(ctx, []KVPair{{Key: "a", Value: "1"}}))
	assert.Equal(t, 1, e.kv.Writes())
	assert.Equal(t, []oplog.Kind{oplog.KindCreate}, e.kinds())
}
