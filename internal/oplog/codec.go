package oplog

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/durable/internal/ir"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("oplog: cbor enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("oplog: cbor dec mode: %v", err))
	}
	decMode = dm
}

// EncodeMode selects how payloads are written.
type EncodeMode uint8

const (
	// EncodeFull writes payload bytes and blob references as stored.
	EncodeFull EncodeMode = iota
	// EncodeHashOnly replaces every payload by its content hash, so two
	// entries compare equal regardless of where their payloads live.
	EncodeHashOnly
)

// payloadHashOnly only ever appears in EncodeHashOnly output.
const payloadHashOnly PayloadKind = 0x7f

type envelope struct {
	Kind Kind            `cbor:"k"`
	Body cbor.RawMessage `cbor:"b"`
}

// Encode serializes an entry.
func Encode(e Entry, mode EncodeMode) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode: nil entry")
	}
	if !e.Kind().Valid() {
		return nil, fmt.Errorf("encode: unknown kind %q", e.Kind())
	}
	if mode == EncodeHashOnly {
		hashed, err := hashPayloads(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
		}
		e = hashed
	}
	body, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return encMode.Marshal(envelope{Kind: e.Kind(), Body: body})
}

// Decode is the inverse of Encode in EncodeFull mode.
func Decode(data []byte) (Entry, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	def, ok := kinds[env.Kind]
	if !ok {
		return nil, fmt.Errorf("decode: unknown kind %q", env.Kind)
	}
	return def.decode(env.Body)
}

// Digest identifies the semantic content of an entry independently of payload
// placement.
func Digest(e Entry) (string, error) {
	data, err := Encode(e, EncodeHashOnly)
	if err != nil {
		return "", err
	}
	return ir.EntryDigest(data), nil
}

func hashOnly(p Payload) (Payload, error) {
	if p.IsZero() {
		return p, nil
	}
	h, err := p.ContentHash()
	if err != nil {
		return Payload{}, err
	}
	return Payload{kind: payloadHashOnly, ref: ExternalRef{Hash: h}}, nil
}

func hashPayloads(e Entry) (Entry, error) {
	var err error
	switch v := e.(type) {
	case HostCall:
		if v.Request, err = hashOnly(v.Request); err != nil {
			return nil, err
		}
		if v.Response, err = hashOnly(v.Response); err != nil {
			return nil, err
		}
		return v, nil
	case ExportedFunctionInvoked:
		if v.Request, err = hashOnly(v.Request); err != nil {
			return nil, err
		}
		return v, nil
	case ExportedFunctionCompleted:
		if v.Response, err = hashOnly(v.Response); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return e, nil
	}
}
