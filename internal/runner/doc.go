// Package runner executes allocations end to end.
//
// Each allocation runs in its own goroutine through a fixed sequence of
// phases: created, downloading-inputs, reconstructing-arguments,
// running-user-code, publishing-result, finished. Phase transitions are
// strictly sequential within one allocation; long-polls against the
// allocation state proceed concurrently because the state carries its
// own lock.
//
// The runner is the single place where error kinds become outcome
// codes. A function returning a plan node yields a plan result; any
// other return value is serialized and uploaded as a value result. A
// declared RequestError has its payload durably uploaded before the
// result references it. Every other error from user code is a user
// exception whose detail goes only to the user-visible log channel.
// Panics anywhere in the phase sequence are recovered at the worker's
// top level and surfaced as a generic internal error, so one
// allocation's defect cannot crash the process.
package runner
