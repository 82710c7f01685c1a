package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/cachekit/internal/record"
)

// ItemSeq generates records with monotonically increasing ids.
//
// Each generated item has ID n and Time n*10, so generation order equals
// ascending sort order. Reset restarts at 1 for test reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ItemSeq struct {
	mu sync.Mutex
	n  int64
}

// NewItemSeq creates a generator whose first item has ID 1.
func NewItemSeq() *ItemSeq {
	return &ItemSeq{}
}

// Next returns the next item.
func (s *ItemSeq) Next() record.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return record.Item{ID: s.n, Time: s.n * 10, Label: fmt.Sprintf("item-%d", s.n)}
}

// Take returns the next count items.
func (s *ItemSeq) Take(count int) []record.Item {
	out := make([]record.Item, count)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// Current returns the id of the last generated item, 0 if none.
func (s *ItemSeq) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset restarts the sequence.
func (s *ItemSeq) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
