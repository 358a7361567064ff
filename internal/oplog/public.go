package oplog

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/durable/internal/ir"
)

// PublicEntry is the inspection view of an entry. Fields carries exactly the
// fields of the raw case, named as in the codec.
type PublicEntry struct {
	Index     Index
	Kind      Kind
	Timestamp time.Time
	Hint      bool
	Fields    ir.Object
}

// ToPublic projects a raw entry. The projection is derived from the entry's
// struct definition, so a field added to a case shows up here without further
// changes. External payloads are described, not fetched.
func ToPublic(idx Index, e Entry) (PublicEntry, error) {
	fields, err := publicFields(e)
	if err != nil {
		return PublicEntry{}, fmt.Errorf("public %s[%d]: %w", e.Kind(), idx, err)
	}
	return PublicEntry{
		Index:     idx,
		Kind:      e.Kind(),
		Timestamp: e.Timestamp(),
		Hint:      e.IsHint(),
		Fields:    fields,
	}, nil
}

// Object renders the entry as a canonical value.
func (p PublicEntry) Object() ir.Object {
	return ir.Object{
		"index":     ir.Int(p.Index),
		"kind":      ir.String(p.Kind),
		"timestamp": ir.String(p.Timestamp.Format(time.RFC3339Nano)),
		"hint":      ir.Bool(p.Hint),
		"fields":    p.Fields,
	}
}

// MarshalJSON emits canonical JSON.
func (p PublicEntry) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(p.Object())
}

func publicFields(e Entry) (ir.Object, error) {
	v := reflect.ValueOf(e)
	t := v.Type()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entry %T is not a struct", e)
	}
	out := ir.Object{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("cbor"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		val, err := publicValue(v.Field(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

func publicValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case Payload:
		return publicPayload(val)
	case Jump:
		return ir.Object{"source": ir.Int(val.Source), "target": ir.Int(val.Target)}, nil
	case Index:
		return ir.Int(val), nil
	case FunctionType:
		return ir.String(val.String()), nil
	case LogLevel:
		return ir.String(val), nil
	case time.Duration:
		return ir.String(val.String()), nil
	case RetryPolicy:
		return ir.Object{
			"max_attempts": ir.Int(val.MaxAttempts),
			"min_delay":    ir.String(val.MinDelay.String()),
			"max_delay":    ir.String(val.MaxDelay.String()),
			"multiplier":   ir.String(strconv.FormatFloat(val.Multiplier, 'g', -1, 64)),
		}, nil
	default:
		return ir.FromGo(v)
	}
}

func publicPayload(p Payload) (ir.Value, error) {
	switch p.kind {
	case 0:
		return ir.Object{"type": ir.String("empty")}, nil
	case PayloadExternal:
		return ir.Object{
			"type":         ir.String(p.kind.String()),
			"payload_id":   ir.String(p.ref.ID.String()),
			"content_hash": ir.String(p.ref.Hash),
		}, nil
	}
	data, err := p.Bytes()
	if err != nil {
		return nil, err
	}
	diag, err := cbor.Diagnose(data)
	if err != nil {
		return nil, fmt.Errorf("diagnose payload: %w", err)
	}
	return ir.Object{
		"type":         ir.String(p.kind.String()),
		"size":         ir.Int(len(data)),
		"content_hash": ir.String(ir.ContentHash(data)),
		"value":        ir.String(diag),
	}, nil
}

// Summary is a one-line description of an entry for text output.
func Summary(e Entry) string {
	switch v := e.(type) {
	case Create:
		return fmt.Sprintf("create %s@%d", v.Component, v.ComponentVersion)
	case HostCall:
		return fmt.Sprintf("host_call %s (%s)", v.FunctionName, v.FunctionType)
	case ExportedFunctionInvoked:
		return fmt.Sprintf("invoke %s key=%s", v.FunctionName, v.IdempotencyKey)
	case ExportedFunctionCompleted:
		return "completed"
	case JumpEntry:
		return "jump " + v.Jump.String()
	case Revert:
		return "revert " + v.DroppedRegion.String()
	case EndAtomicRegion:
		return fmt.Sprintf("end_atomic_region begin=%d", v.BeginIndex)
	case EndRemoteWrite:
		return fmt.Sprintf("end_remote_write begin=%d", v.BeginIndex)
	case Error:
		return "error " + v.Message
	case Log:
		return fmt.Sprintf("log [%s] %s", v.Level, v.Message)
	default:
		return string(e.Kind())
	}
}
