package core

import "sync/atomic"

var lastInstanceID atomic.Int64

// NextInstanceID returns a process-unique id for a cache instance. Ids start
// at 1 and are used as notification keys.
func NextInstanceID() int64 {
	return lastInstanceID.Add(1)
}
