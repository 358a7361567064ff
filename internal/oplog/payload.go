package oplog

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/roach88/durable/internal/ir"
)

// PayloadKind is the discriminant of a Payload.
type PayloadKind uint8

const (
	// PayloadInline holds a decoded value in memory.
	PayloadInline PayloadKind = iota + 1
	// PayloadSerializedInline holds encoded bytes, decoded on demand.
	PayloadSerializedInline
	// PayloadExternal references bytes in blob storage.
	PayloadExternal
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadInline:
		return "inline"
	case PayloadSerializedInline:
		return "serialized_inline"
	case PayloadExternal:
		return "external"
	default:
		return fmt.Sprintf("payload_kind(%d)", uint8(k))
	}
}

// ExternalRef locates a payload in blob storage.
type ExternalRef struct {
	ID   PayloadID
	Hash string
}

// Payload is the value stored in an entry's payload slot.
//
// Whether a blob fetch is needed depends only on the kind. An inline payload
// is encoded when its entry is written and therefore reads back as
// SerializedInline.
type Payload struct {
	kind  PayloadKind
	value any
	data  []byte
	ref   ExternalRef
}

// InlinePayload wraps an already decoded value.
func InlinePayload(v any) Payload {
	return Payload{kind: PayloadInline, value: v}
}

// SerializedPayload wraps CBOR-encoded bytes.
func SerializedPayload(data []byte) Payload {
	return Payload{kind: PayloadSerializedInline, data: data}
}

// ExternalPayload references a blob.
func ExternalPayload(ref ExternalRef) Payload {
	return Payload{kind: PayloadExternal, ref: ref}
}

func (p Payload) Kind() PayloadKind {
	return p.kind
}

// NeedsFetch reports whether reading the value requires blob storage.
func (p Payload) NeedsFetch() bool {
	return p.kind == PayloadExternal
}

// Ref returns the blob reference of an external payload.
func (p Payload) Ref() (ExternalRef, bool) {
	return p.ref, p.kind == PayloadExternal
}

// IsZero reports whether the payload was never set.
func (p Payload) IsZero() bool {
	return p.kind == 0
}

// Bytes returns the encoded form of an inline payload.
func (p Payload) Bytes() ([]byte, error) {
	switch p.kind {
	case PayloadInline:
		return encMode.Marshal(p.value)
	case PayloadSerializedInline:
		return p.data, nil
	case PayloadExternal:
		return nil, fmt.Errorf("external payload %s must be fetched", p.ref.ID)
	default:
		return nil, fmt.Errorf("empty payload")
	}
}

// ContentHash returns the digest of the encoded value. For external payloads
// this is the stored hash and no fetch happens.
func (p Payload) ContentHash() (string, error) {
	if p.kind == PayloadExternal {
		return p.ref.Hash, nil
	}
	data, err := p.Bytes()
	if err != nil {
		return "", err
	}
	return ir.ContentHash(data), nil
}

// payloadWire is the persisted shape of a payload.
type payloadWire struct {
	Kind PayloadKind `cbor:"k"`
	Data []byte      `cbor:"d,omitempty"`
	ID   []byte      `cbor:"id,omitempty"`
	Hash string      `cbor:"h,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (p Payload) MarshalCBOR() ([]byte, error) {
	switch p.kind {
	case PayloadInline, PayloadSerializedInline:
		data, err := p.Bytes()
		if err != nil {
			return nil, err
		}
		return encMode.Marshal(payloadWire{Kind: PayloadSerializedInline, Data: data})
	case PayloadExternal:
		return encMode.Marshal(payloadWire{Kind: PayloadExternal, ID: p.ref.ID[:], Hash: p.ref.Hash})
	case payloadHashOnly:
		return encMode.Marshal(payloadWire{Kind: payloadHashOnly, Hash: p.ref.Hash})
	default:
		return encMode.Marshal(payloadWire{})
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *Payload) UnmarshalCBOR(data []byte) error {
	var w payloadWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case 0:
		*p = Payload{}
	case PayloadSerializedInline:
		*p = SerializedPayload(w.Data)
	case PayloadExternal:
		id, err := uuid.FromBytes(w.ID)
		if err != nil {
			return fmt.Errorf("payload id: %w", err)
		}
		*p = ExternalPayload(ExternalRef{ID: id, Hash: w.Hash})
	case payloadHashOnly:
		*p = Payload{kind: payloadHashOnly, ref: ExternalRef{Hash: w.Hash}}
	default:
		return fmt.Errorf("unknown payload kind %d", w.Kind)
	}
	return nil
}

// BlobReader is the read half of blob storage.
type BlobReader interface {
	Get(ctx context.Context, id PayloadID) ([]byte, error)
}

// DecodePayload returns the value held by p as a T. External payloads are
// fetched through blobs and verified against their content hash.
func DecodePayload[T any](ctx context.Context, p Payload, blobs BlobReader) (T, error) {
	var out T
	switch p.kind {
	case PayloadInline:
		if v, ok := p.value.(T); ok {
			return v, nil
		}
		data, err := p.Bytes()
		if err != nil {
			return out, err
		}
		return out, decMode.Unmarshal(data, &out)
	case PayloadSerializedInline:
		if err := decMode.Unmarshal(p.data, &out); err != nil {
			return out, fmt.Errorf("decode inline payload: %w", err)
		}
		return out, nil
	case PayloadExternal:
		if blobs == nil {
			return out, fmt.Errorf("external payload %s: no blob storage configured", p.ref.ID)
		}
		data, err := blobs.Get(ctx, p.ref.ID)
		if err != nil {
			return out, fmt.Errorf("fetch payload %s: %w", p.ref.ID, err)
		}
		if got := ir.ContentHash(data); got != p.ref.Hash {
			return out, &CorruptPayloadError{ID: p.ref.ID, Expected: p.ref.Hash, Actual: got}
		}
		if err := decMode.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("decode external payload %s: %w", p.ref.ID, err)
		}
		return out, nil
	default:
		return out, fmt.Errorf("cannot decode payload of kind %s", p.kind)
	}
}

// RawValue decodes any payload into a generic CBOR value, for inspection.
func RawValue(ctx context.Context, p Payload, blobs BlobReader) (cbor.RawMessage, error) {
	return DecodePayload[cbor.RawMessage](ctx, p, blobs)
}
