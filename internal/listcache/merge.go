package listcache

import "sort"

// mutation transforms one buffer into its next state. Mutations never modify
// their input: buffers are shared with readers, so every change produces a
// new slice.
type mutation[V any] func(seq []V) []V

// upsertMutation removes every element whose id is in values and merges
// values in sort order. Among equal sort keys, existing elements stay first
// and new values keep their batch order.
func (c *Cache[V]) upsertMutation(values []V) mutation[V] {
	incoming := append([]V(nil), values...)
	sort.SliceStable(incoming, func(i, j int) bool {
		return c.less(incoming[i], incoming[j])
	})
	ids := make(map[int64]struct{}, len(incoming))
	for _, v := range incoming {
		ids[c.adapter.ID(v)] = struct{}{}
	}

	return func(seq []V) []V {
		out := make([]V, 0, len(seq)+len(incoming))
		i := 0
		for _, v := range seq {
			if _, replaced := ids[c.adapter.ID(v)]; replaced {
				continue
			}
			for i < len(incoming) && c.less(incoming[i], v) {
				out = append(out, incoming[i])
				i++
			}
			out = append(out, v)
		}
		return append(out, incoming[i:]...)
	}
}

// removeMutation drops every element whose id is in ids.
func (c *Cache[V]) removeMutation(ids map[int64]struct{}) mutation[V] {
	return func(seq []V) []V {
		out := make([]V, 0, len(seq))
		for _, v := range seq {
			if _, gone := ids[c.adapter.ID(v)]; !gone {
				out = append(out, v)
			}
		}
		return out
	}
}

// replaceMutation discards the buffer and installs values in sort order.
func (c *Cache[V]) replaceMutation(values []V) mutation[V] {
	sorted := append([]V(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.less(sorted[i], sorted[j])
	})
	return func([]V) []V {
		return sorted
	}
}

// dedupe keeps the last occurrence of each id, in first-seen position.
func (c *Cache[V]) dedupe(values []V) []V {
	pos := make(map[int64]int, len(values))
	out := make([]V, 0, len(values))
	for _, v := range values {
		id := c.adapter.ID(v)
		if i, seen := pos[id]; seen {
			out[i] = v
			continue
		}
		pos[id] = len(out)
		out = append(out, v)
	}
	return out
}
