// Package durability decides, for every host call a worker makes, whether the
// call runs for real or is answered from the oplog.
//
// A call is live once the replay cursor has passed the oplog length fixed at
// worker start. Live calls execute (through the retry layer) and append a
// host_call entry holding the CBOR-encoded request and outcome. Replayed calls
// read the next non-hint entry, check that it was produced by the same
// function, and return the recorded outcome without executing anything.
//
// Control signals (suspend, interrupt) unwind a worker without being written
// to the oplog. Business errors are recorded as *CallError so the worker sees
// the same error on replay. Anything that makes the recorded history
// unusable is fatal: see DivergenceError and FatalError.
package durability
