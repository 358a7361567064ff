package oplog

import (
	"fmt"
	"slices"
)

// Kind names an entry case. The name is what the codec writes, so it must
// never change once entries of that kind have been persisted.
type Kind string

const (
	KindCreate                    Kind = "create"
	KindHostCall                  Kind = "host_call"
	KindExportedFunctionInvoked   Kind = "exported_function_invoked"
	KindExportedFunctionCompleted Kind = "exported_function_completed"
	KindSuspend                   Kind = "suspend"
	KindError                     Kind = "error"
	KindNoOp                      Kind = "no_op"
	KindJump                      Kind = "jump"
	KindInterrupted               Kind = "interrupted"
	KindChangeRetryPolicy         Kind = "change_retry_policy"
	KindBeginAtomicRegion         Kind = "begin_atomic_region"
	KindEndAtomicRegion           Kind = "end_atomic_region"
	KindBeginRemoteWrite          Kind = "begin_remote_write"
	KindEndRemoteWrite            Kind = "end_remote_write"
	KindLog                       Kind = "log"
	KindRestart                   Kind = "restart"
	KindRevert                    Kind = "revert"
)

// kindDef is one row of the entry schema.
type kindDef struct {
	// hint entries carry no decision-relevant payload and are skipped by replay.
	hint   bool
	decode func(body []byte) (Entry, error)
}

var kinds = map[Kind]kindDef{
	KindCreate:                    {decode: decodeAs[Create]},
	KindHostCall:                  {decode: decodeAs[HostCall]},
	KindExportedFunctionInvoked:   {decode: decodeAs[ExportedFunctionInvoked]},
	KindExportedFunctionCompleted: {decode: decodeAs[ExportedFunctionCompleted]},
	KindSuspend:                   {hint: true, decode: decodeAs[Suspend]},
	KindError:                     {hint: true, decode: decodeAs[Error]},
	KindNoOp:                      {decode: decodeAs[NoOp]},
	KindJump:                      {decode: decodeAs[JumpEntry]},
	KindInterrupted:               {hint: true, decode: decodeAs[Interrupted]},
	KindChangeRetryPolicy:         {decode: decodeAs[ChangeRetryPolicy]},
	KindBeginAtomicRegion:         {decode: decodeAs[BeginAtomicRegion]},
	KindEndAtomicRegion:           {decode: decodeAs[EndAtomicRegion]},
	KindBeginRemoteWrite:          {decode: decodeAs[BeginRemoteWrite]},
	KindEndRemoteWrite:            {decode: decodeAs[EndRemoteWrite]},
	KindLog:                       {hint: true, decode: decodeAs[Log]},
	KindRestart:                   {hint: true, decode: decodeAs[Restart]},
	KindRevert:                    {hint: true, decode: decodeAs[Revert]},
}

// IsHint reports whether entries of this kind are skipped during replay.
func (k Kind) IsHint() bool {
	return kinds[k].hint
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Kinds lists every known kind in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func decodeAs[T Entry](body []byte) (Entry, error) {
	var e T
	if err := decMode.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode %T: %w", e, err)
	}
	return e, nil
}
