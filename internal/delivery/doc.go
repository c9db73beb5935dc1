// Package delivery implements the Data Delivery Engine.
//
// GetFileData either resolves synchronously from the content cache or
// object store, or suspends under a command id and returns "IO
// pending". Suspended requests resume when the Async Bridge signals
// that content for their path has landed in the cache, via
// CompletePending: every suspended request for that path completes,
// in map-iteration order, and is removed from the pending set. A
// request is never completed twice.
package delivery
