// Package record defines Item, the general-purpose record type stored by the
// cachekit CLI and scenario harness.
package record

import (
	"fmt"

	"github.com/roach88/cachekit/internal/codec"
	"github.com/roach88/cachekit/internal/core"
)

// Item is a labelled record ordered by Time.
type Item struct {
	ID    int64  `json:"id" yaml:"id"`
	Time  int64  `json:"time" yaml:"time"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

func (i Item) String() string {
	return fmt.Sprintf("{id:%d time:%d label:%q}", i.ID, i.Time, i.Label)
}

// Adapter identifies Items by ID and orders them by Time.
type Adapter struct{}

func (Adapter) ID(i Item) int64      { return i.ID }
func (Adapter) SortKey(i Item) int64 { return i.Time }

var _ core.Adapter[Item] = Adapter{}

// Codec is the payload codec for Items.
type Codec = codec.JSON[Item]

// IDs returns the ids of items, in order.
func IDs(items []Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
