// Package harness runs YAML scenarios against a ListCache and a
// KeyValueCache backed by a fresh in-memory SQLite store.
//
// # Scenario Format
//
//	name: list_basic
//	description: "Items are kept sorted by time"
//	capacity: 2          # key/value cache capacity (default 100)
//	order: asc           # list order, asc or desc
//	seed:                # rows written to the list table before the cache exists
//	  - { id: 9, time: 90 }
//	steps:
//	  - list: add
//	    items: [{ id: 1, time: 10, label: a }]
//	  - list: add_batch
//	    generate: 3      # appends generated items (id n, time n*10)
//	  - list: load_page
//	    limit: 2
//	  - kv: put
//	    items: [{ id: 1, time: 10 }]
//	  - kv: get
//	    ids: [1, 2]
//	assertions:
//	  - type: list_order
//	    ids: [1, 9]
//	  - type: list_count
//	    count: 2
//	  - type: kv_present
//	    ids: [1]
//	  - type: kv_absent
//	    ids: [2]
//	  - type: store_count
//	    store: list
//	    count: 2
//
// List steps: add, update, upsert, remove, add_batch, update_batch,
// upsert_batch, remove_batch, load_page, load_all, clear, get_from_db.
// Key/value steps: put, put_all, get, remove, clear.
//
// # Determinism
//
// Every step is followed by a full settle: queued store work, mutation
// cycles and notification deliveries all complete before the next step.
// The trace records, per step, the resulting state and the notification
// payloads delivered during the step, so the same scenario always renders
// the same trace. Traces are compared against golden files with goldie.
package harness
