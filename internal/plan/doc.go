// Package plan models the awaitable tree produced by user code during a
// function execution, and assigns durable content-addressed identifiers
// to its nodes.
//
// An awaitable tree is a recursive structure of deferred work: concrete
// values, named function calls, reduce operations, and collections. User
// code rebuilds the tree from scratch on every execution; MakeDurable
// converts a fresh tree into a durable one whose node identifiers are
// stable across retries and process restarts, so that re-running the
// same logical call graph never forks new identities.
//
// Durable identifiers hash only structural information (parent call id,
// sequence number, node kind, function name, child identifiers). They
// never hash argument payloads, which keeps derivation cheap for
// multi-gigabyte arguments and insensitive to non-semantic serialization
// differences.
package plan
