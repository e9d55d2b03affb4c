// Package dispatch turns submitted allocations into running workers.
//
// The local dispatcher owns one goroutine and one live state per
// allocation, which is the whole concurrency model: thread-per
// allocation, with the caller-facing surfaces querying the same states
// concurrently. The redis intake is an optional front door that feeds
// the same dispatcher from a queue so a separate process can submit
// work.
package dispatch
