// Package blob moves large payloads as named byte sequences split into
// addressable chunks.
//
// A Blob is a descriptor only: a name, an ordered list of chunk URIs
// with sizes and optional integrity tags. The Store reads and writes
// byte ranges against those URIs, dispatching by scheme: file:// hits
// the local filesystem, s3:// the object store through the AWS SDK, and
// https:// pre-signed chunk URLs directly over a pooled HTTP client.
//
// Remote operations retry transient failures with bounded, jittered
// exponential backoff; client errors (400, 403, 404) fail immediately.
// Chunk URIs may be pre-signed and are therefore sensitive: they never
// appear in log output or error text, only status codes and response
// bodies do.
//
// No handle outlives the single Get or Put call that opened it.
package blob
