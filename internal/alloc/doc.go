// Package alloc holds the durable unit of work (an Allocation) and the
// thread-safe, hash-versioned state object callers long-poll against.
//
// One State exists per allocation. Every mutation happens under one
// lock, recomputes the content hash, and wakes all waiters; observers
// therefore see mutations in a single global order, and the hash is the
// sole correctness anchor for long polling. Once a terminal result is
// set the state freezes: no field changes again, and WaitForUpdate
// never blocks again.
package alloc
