// Package statestore provides durable bookkeeping for allocations and
// request-scoped state keys, backed by SQLite.
//
// Two concerns live here:
//
//   - An allocation journal: every allocation the process accepts is
//     recorded on intake and stamped with its terminal outcome when the
//     run finishes. A restarted process can answer "was this allocation
//     seen before" without re-deriving anything.
//
//   - A request-state index: commits of request-scoped keys map a
//     (request id, key) pair to the BLOB holding the committed bytes.
//     Reads of a key re-serve the committed descriptor; uncommitted
//     keys are absent by definition.
//
// The database uses WAL mode so readers never block the single writer,
// and an embedded schema with PRAGMA user_version migrations so opening
// an existing file upgrades it in place.
package statestore
