package chunk

import "sort"

// Registry maps allocation addresses to chunk records.
//
// Two indexes are maintained:
//
//   - byUser: user base address -> chunk, for O(1) lookup on the free path
//   - ordered: chunks sorted by raw base, for binary-search lookup of the
//     chunk whose block (redzones included) contains an arbitrary address,
//     which is what the reporter needs to compute distance and direction
//
// The registry performs no locking; the runtime serializes all mutation and
// lookup under its own lock. This mirrors the rest of the detector state:
// one lock at the top, dumb data structures below it.
type Registry struct {
	byUser  map[uintptr]*Chunk
	ordered []*Chunk
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[uintptr]*Chunk)}
}

// Len returns the number of registered chunks, quarantined ones included.
func (r *Registry) Len() int { return len(r.ordered) }

// Insert registers a chunk. Blocks never overlap (the raw source hands out
// disjoint ranges), so insertion position is determined by RawBase alone.
func (r *Registry) Insert(c *Chunk) {
	r.byUser[c.UserBase] = c
	i := sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].RawBase >= c.RawBase
	})
	r.ordered = append(r.ordered, nil)
	copy(r.ordered[i+1:], r.ordered[i:])
	r.ordered[i] = c
}

// Lookup returns the chunk whose user base is exactly addr, or nil.
// This is the free-path lookup: only a pointer previously returned by the
// allocator is a valid free target.
func (r *Registry) Lookup(addr uintptr) *Chunk {
	return r.byUser[addr]
}

// FindByAddress returns the chunk whose reserved block contains addr
// (redzones included), or nil if no chunk owns that address.
func (r *Registry) FindByAddress(addr uintptr) *Chunk {
	// First chunk with RawBase > addr; the candidate is its predecessor.
	i := sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].RawBase > addr
	})
	if i == 0 {
		return nil
	}
	if c := r.ordered[i-1]; c.Contains(addr) {
		return c
	}
	return nil
}

// Remove unregisters the chunk with the given user base and returns it,
// or nil if no such chunk exists.
func (r *Registry) Remove(userBase uintptr) *Chunk {
	c, ok := r.byUser[userBase]
	if !ok {
		return nil
	}
	delete(r.byUser, userBase)
	i := sort.Search(len(r.ordered), func(i int) bool {
		return r.ordered[i].RawBase >= c.RawBase
	})
	// i points at c: RawBase values are unique.
	r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
	return c
}
