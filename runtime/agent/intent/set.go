package intent

import (
	"slices"

	"goa.design/agentkernel/runtime/agent"
)

// Set is a set of intent identifiers. The zero value is an empty, read-only
// set; use NewSet before adding.
type Set map[agent.IntentID]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...agent.IntentID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was absent.
func (s Set) Add(id agent.IntentID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s Set) Has(id agent.IntentID) bool {
	_, ok := s[id]
	return ok
}

// HasAll reports whether every id is in the set.
func (s Set) HasAll(ids []agent.IntentID) bool {
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []agent.IntentID {
	ids := make([]agent.IntentID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, agent.IntentID.Compare)
	return ids
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
