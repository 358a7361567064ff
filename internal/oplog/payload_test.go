package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/ir"
)

type mapBlobs map[PayloadID][]byte

func (m mapBlobs) Get(_ context.Context, id PayloadID) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, ErrPayloadNotFound
	}
	return data, nil
}

func TestNeedsFetchFollowsDiscriminant(t *testing.T) {
	assert.False(t, InlinePayload(1).NeedsFetch())
	assert.False(t, SerializedPayload([]byte{0x01}).NeedsFetch())
	assert.True(t, ExternalPayload(ExternalRef{ID: NewPayloadID()}).NeedsFetch())
}

func TestDecodeInlineReturnsValue(t *testing.T) {
	type point struct{ X, Y int }
	p := InlinePayload(point{1, 2})

	got, err := DecodePayload[point](context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, point{1, 2}, got)
}

func TestDecodeExternalVerifiesHash(t *testing.T) {
	ctx := context.Background()
	data, err := encMode.Marshal("a large value")
	require.NoError(t, err)

	id := NewPayloadID()
	blobs := mapBlobs{id: data}

	good := ExternalPayload(ExternalRef{ID: id, Hash: ir.ContentHash(data)})
	got, err := DecodePayload[string](ctx, good, blobs)
	require.NoError(t, err)
	assert.Equal(t, "a large value", got)

	bad := ExternalPayload(ExternalRef{ID: id, Hash: ir.ContentHash([]byte("other"))})
	_, err = DecodePayload[string](ctx, bad, blobs)
	require.Error(t, err)
	assert.True(t, IsCorruptPayload(err))
}

func TestDecodeExternalMissingBlob(t *testing.T) {
	p := ExternalPayload(ExternalRef{ID: NewPayloadID(), Hash: "x"})

	_, err := DecodePayload[string](context.Background(), p, mapBlobs{})
	assert.ErrorIs(t, err, ErrPayloadNotFound)

	_, err = DecodePayload[string](context.Background(), p, nil)
	assert.Error(t, err)
}

func TestInlinePayloadPersistsAsSerialized(t *testing.T) {
	data, err := encMode.Marshal(InlinePayload(uint64(7)))
	require.NoError(t, err)

	var back Payload
	require.NoError(t, decMode.Unmarshal(data, &back))
	assert.Equal(t, PayloadSerializedInline, back.Kind())

	v, err := DecodePayload[uint64](context.Background(), back, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestExternalPayloadSurvivesEncoding(t *testing.T) {
	ref := ExternalRef{ID: NewPayloadID(), Hash: "abc"}
	data, err := encMode.Marshal(ExternalPayload(ref))
	require.NoError(t, err)

	var back Payload
	require.NoError(t, decMode.Unmarshal(data, &back))
	got, ok := back.Ref()
	require.True(t, ok)
	assert.Equal(t, ref, got)
}
