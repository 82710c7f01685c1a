// Package core defines the narrow ports shared by the cachekit engines.
//
// The engines never inspect a record directly. Everything they need to know
// about a record comes through an Identity (and, for ordered collections, an
// Ordering) supplied by the caller per record type. Durable storage is reached
// only through Store / PageStore, and payload bytes only through a Codec.
//
// # Error Taxonomy
//
//   - WRONG_THREAD: a disk-synchronous call was made from the UI-affine loop.
//     The only error that aborts the calling operation.
//   - DECODE: stored bytes could not be turned back into a record. The row is
//     skipped, never propagated as a batch failure.
//   - SWAP_TIMEOUT: internal recovery condition of the list double buffer.
//     Never returned to callers, only logged and counted.
//   - STORE_IO: a backing store operation failed. Logged, not retried, and
//     never rolls back the in-memory view.
package core
