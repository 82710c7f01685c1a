// Package store provides the backing stores used by the caches.
//
// Store wraps one SQLite database. ListTable and KVTable are typed views over
// it, one per cache, implementing core.PageStore and core.Store. Memory is an
// in-process implementation with failure injection for tests.
//
// # Tables
//
//   - list_items(list_id, id, sort_key, bytes): PRIMARY KEY(list_id, id),
//     indexed on (list_id, sort_key, id) for page reads
//   - kv_items(table_name, id, bytes): PRIMARY KEY(table_name, id)
//
// Payload bytes are produced by an injected core.Codec. A row that fails to
// decode is logged and skipped; it never fails the whole read.
//
// # Ordering
//
// Page reads are ORDER BY sort_key, id in the table's direction, so ties on
// sort_key still produce a stable page window.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
