// Package engine runs workers.
//
// A Worker owns one oplog and executes one invocation at a time in a single
// goroutine. Every time the worker starts (first start, after a crash, after
// a suspend or a restart) it replays its oplog from the beginning: recorded
// invocations are executed again with the durability layer answering every
// host call from the log, and once the log is exhausted the worker continues
// live.
//
// Execution status:
//
//	Idle -> Running -> Idle                   invocation completed
//	Running -> Suspended{resume_at} -> Running  sleep not yet due
//	Running -> Interrupted(kind) -> Running     Interrupt / Suspend, then Resume
//	Running -> Interrupted(Fatal)              divergence, exits
//
// Interrupts are delivered out of band: Interrupt stores the kind and wakes
// the loop, and the next wrapped host call unwinds with an InterruptSignal.
// Control signals never reach the oplog; the loop records a hint entry for
// operator-visible transitions (interrupted, suspend, restart, error).
//
// The Executor runs many workers in parallel over one storage backend.
package engine
