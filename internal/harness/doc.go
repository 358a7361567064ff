// Package harness runs YAML scenarios against a worker of the demo
// component and checks the oplog it leaves behind.
//
// A scenario drives one worker through a list of steps. Each step does one
// thing:
//
//	name: sleep_then_resume
//	description: "A sleeping invocation suspends and completes once due"
//	steps:
//	  - invoke: wait          # enqueue an invocation
//	    key: w1
//	    args: 10s
//	    expect: {suspended: true}
//	  - advance: 10s          # move the fake clock and resume a sleeper
//	  - await: w1             # wait for a pending invocation
//	    expect: {output: "2024-01-01T00:00:10Z"}
//	  - crash: true           # drop the worker and start a new one
//	  - interrupt: interrupt  # interrupt, suspend or restart
//	  - resume: true
//	  - upgrade: {function: stamp, with: stamp_uuid}
//	assertions:
//	  - type: oplog_kinds
//	    kinds: [create, exported_function_invoked, host_call, exported_function_completed]
//	  - type: kind_count
//	    kind: host_call
//	    name: clock.now
//	    count: 1
//	  - type: status
//	    state: idle
//	  - type: side_effects
//	    draws: 0
//	    kv_writes: 0
//
// Everything nondeterministic is faked: the clock starts at testutil.Epoch
// and only moves on advance steps, random draws count up from 1, and the kv
// store lives in memory. Invocations left pending by a crash are submitted
// again, with the same key, to the new worker.
//
// The oplog trace of a run (index, kind and function name of every entry)
// can be compared against a golden file with AssertGolden.
package harness
