package oplog

import (
	"time"
)

// Entry is one record of a worker's history. The set of implementations is
// closed; see the kinds table.
type Entry interface {
	Kind() Kind
	Timestamp() time.Time
	IsHint() bool
	withTimestamp(t time.Time) Entry
}

// now is the only source of entry timestamps.
var now = func() time.Time { return time.Now().UTC() }

// Meta is embedded in every entry.
type Meta struct {
	Time time.Time `cbor:"ts"`
}

func (m Meta) Timestamp() time.Time {
	return m.Time
}

func stamp() Meta {
	return Meta{Time: now()}
}

// Rounded returns a copy of e with its timestamp truncated to milliseconds.
// Golden files compare rounded entries so that clock precision differences
// between platforms do not show up as diffs.
func Rounded(e Entry) Entry {
	return e.withTimestamp(e.Timestamp().Truncate(time.Millisecond))
}

// Create is always the first entry of a worker's oplog.
type Create struct {
	Meta
	Component        string            `cbor:"component"`
	ComponentVersion uint64            `cbor:"component_version"`
	Args             []string          `cbor:"args,omitempty"`
	Env              map[string]string `cbor:"env,omitempty"`
}

func NewCreate(component string, version uint64, args []string, env map[string]string) Create {
	return Create{Meta: stamp(), Component: component, ComponentVersion: version, Args: args, Env: env}
}

func (Create) Kind() Kind {
	return KindCreate
}

func (Create) IsHint() bool {
	return KindCreate.IsHint()
}

func (e Create) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// HostCall records the outcome of one durable host call.
type HostCall struct {
	Meta
	FunctionName string       `cbor:"function_name"`
	Request      Payload      `cbor:"request"`
	Response     Payload      `cbor:"response"`
	FunctionType FunctionType `cbor:"function_type"`
}

func NewHostCall(name string, request, response Payload, ft FunctionType) HostCall {
	return HostCall{Meta: stamp(), FunctionName: name, Request: request, Response: response, FunctionType: ft}
}

func (HostCall) Kind() Kind {
	return KindHostCall
}

func (HostCall) IsHint() bool {
	return KindHostCall.IsHint()
}

func (e HostCall) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// ExportedFunctionInvoked records that the worker started an invocation.
type ExportedFunctionInvoked struct {
	Meta
	FunctionName   string  `cbor:"function_name"`
	Request        Payload `cbor:"request"`
	IdempotencyKey string  `cbor:"idempotency_key"`
}

func NewExportedFunctionInvoked(name string, request Payload, key string) ExportedFunctionInvoked {
	return ExportedFunctionInvoked{Meta: stamp(), FunctionName: name, Request: request, IdempotencyKey: key}
}

func (ExportedFunctionInvoked) Kind() Kind {
	return KindExportedFunctionInvoked
}

func (ExportedFunctionInvoked) IsHint() bool {
	return KindExportedFunctionInvoked.IsHint()
}

func (e ExportedFunctionInvoked) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// ExportedFunctionCompleted records the result of the invocation most recently
// started.
type ExportedFunctionCompleted struct {
	Meta
	Response     Payload `cbor:"response"`
	ConsumedFuel int64   `cbor:"consumed_fuel"`
}

func NewExportedFunctionCompleted(response Payload, fuel int64) ExportedFunctionCompleted {
	return ExportedFunctionCompleted{Meta: stamp(), Response: response, ConsumedFuel: fuel}
}

func (ExportedFunctionCompleted) Kind() Kind {
	return KindExportedFunctionCompleted
}

func (ExportedFunctionCompleted) IsHint() bool {
	return KindExportedFunctionCompleted.IsHint()
}

func (e ExportedFunctionCompleted) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Suspend marks that the worker was suspended on request.
type Suspend struct{ Meta }

func NewSuspend() Suspend {
	return Suspend{stamp()}
}

func (Suspend) Kind() Kind {
	return KindSuspend
}

func (Suspend) IsHint() bool {
	return KindSuspend.IsHint()
}

func (e Suspend) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Error marks that the worker failed.
type Error struct {
	Meta
	Message string `cbor:"message"`
}

func NewError(message string) Error {
	return Error{Meta: stamp(), Message: message}
}

func (Error) Kind() Kind {
	return KindError
}

func (Error) IsHint() bool {
	return KindError.IsHint()
}

func (e Error) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// NoOp is written when the worker asks for its current oplog index, so that
// the answer is stable under replay.
type NoOp struct{ Meta }

func NewNoOp() NoOp {
	return NoOp{stamp()}
}

func (NoOp) Kind() Kind {
	return KindNoOp
}

func (NoOp) IsHint() bool {
	return KindNoOp.IsHint()
}

func (e NoOp) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// JumpEntry persists a Jump. It is written at the jump's target, so it lies
// inside the region it deletes.
type JumpEntry struct {
	Meta
	Jump Jump `cbor:"jump"`
}

func NewJump(j Jump) JumpEntry {
	return JumpEntry{Meta: stamp(), Jump: j}
}

func (JumpEntry) Kind() Kind {
	return KindJump
}

func (JumpEntry) IsHint() bool {
	return KindJump.IsHint()
}

func (e JumpEntry) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Interrupted marks that the worker was interrupted.
type Interrupted struct{ Meta }

func NewInterrupted() Interrupted {
	return Interrupted{stamp()}
}

func (Interrupted) Kind() Kind {
	return KindInterrupted
}

func (Interrupted) IsHint() bool {
	return KindInterrupted.IsHint()
}

func (e Interrupted) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// ChangeRetryPolicy overrides the retry policy from this point on.
type ChangeRetryPolicy struct {
	Meta
	Policy RetryPolicy `cbor:"policy"`
}

func NewChangeRetryPolicy(p RetryPolicy) ChangeRetryPolicy {
	return ChangeRetryPolicy{Meta: stamp(), Policy: p}
}

func (ChangeRetryPolicy) Kind() Kind {
	return KindChangeRetryPolicy
}

func (ChangeRetryPolicy) IsHint() bool {
	return KindChangeRetryPolicy.IsHint()
}

func (e ChangeRetryPolicy) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// BeginAtomicRegion opens a region whose entries only count once the
// matching EndAtomicRegion has been written.
type BeginAtomicRegion struct{ Meta }

func NewBeginAtomicRegion() BeginAtomicRegion {
	return BeginAtomicRegion{stamp()}
}

func (BeginAtomicRegion) Kind() Kind {
	return KindBeginAtomicRegion
}

func (BeginAtomicRegion) IsHint() bool {
	return KindBeginAtomicRegion.IsHint()
}

func (e BeginAtomicRegion) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

type EndAtomicRegion struct {
	Meta
	BeginIndex Index `cbor:"begin_index"`
}

func NewEndAtomicRegion(begin Index) EndAtomicRegion {
	return EndAtomicRegion{Meta: stamp(), BeginIndex: begin}
}

func (EndAtomicRegion) Kind() Kind {
	return KindEndAtomicRegion
}

func (EndAtomicRegion) IsHint() bool {
	return KindEndAtomicRegion.IsHint()
}

func (e EndAtomicRegion) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// BeginRemoteWrite brackets a non-idempotent remote write. A begin without a
// matching end means the write may or may not have happened.
type BeginRemoteWrite struct{ Meta }

func NewBeginRemoteWrite() BeginRemoteWrite {
	return BeginRemoteWrite{stamp()}
}

func (BeginRemoteWrite) Kind() Kind {
	return KindBeginRemoteWrite
}

func (BeginRemoteWrite) IsHint() bool {
	return KindBeginRemoteWrite.IsHint()
}

func (e BeginRemoteWrite) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

type EndRemoteWrite struct {
	Meta
	BeginIndex Index `cbor:"begin_index"`
}

func NewEndRemoteWrite(begin Index) EndRemoteWrite {
	return EndRemoteWrite{Meta: stamp(), BeginIndex: begin}
}

func (EndRemoteWrite) Kind() Kind {
	return KindEndRemoteWrite
}

func (EndRemoteWrite) IsHint() bool {
	return KindEndRemoteWrite.IsHint()
}

func (e EndRemoteWrite) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Log is a message emitted by the worker.
type Log struct {
	Meta
	Level   LogLevel `cbor:"level"`
	Context string   `cbor:"context,omitempty"`
	Message string   `cbor:"message"`
}

func NewLog(level LogLevel, context, message string) Log {
	return Log{Meta: stamp(), Level: level, Context: context, Message: message}
}

func (Log) Kind() Kind {
	return KindLog
}

func (Log) IsHint() bool {
	return KindLog.IsHint()
}

func (e Log) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Restart marks that the worker was re-instantiated from its oplog.
type Restart struct{ Meta }

func NewRestart() Restart {
	return Restart{stamp()}
}

func (Restart) Kind() Kind {
	return KindRestart
}

func (Restart) IsHint() bool {
	return KindRestart.IsHint()
}

func (e Restart) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

// Revert drops a range of history chosen by an operator.
type Revert struct {
	Meta
	DroppedRegion Jump `cbor:"dropped_region"`
}

func NewRevert(dropped Jump) Revert {
	return Revert{Meta: stamp(), DroppedRegion: dropped}
}

func (Revert) Kind() Kind {
	return KindRevert
}

func (Revert) IsHint() bool {
	return KindRevert.IsHint()
}

func (e Revert) withTimestamp(t time.Time) Entry {
	e.Time = t
	return e
}

