package inspect

import (
	"reflect"

	"github.com/drblury/glue/internal/runtime/jsoncodec"
)

type undefinedValue struct{}

// Undefined renders as "undefined". It marks a value that was never set, as
// opposed to one explicitly set to nil.
var Undefined = undefinedValue{}

func (undefinedValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

type mapEntry struct {
	key   any
	value any
}

// Map is an insertion ordered key/value container. Keys are compared with ==
// when their dynamic type is comparable; other keys are always appended.
type Map struct {
	entries []mapEntry
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{} }

// Set stores value under key, replacing an existing entry in place.
func (m *Map) Set(key, value any) *Map {
	for i := range m.entries {
		if sameKey(m.entries[i].key, key) {
			m.entries[i].value = value
			return m
		}
	}
	m.entries = append(m.entries, mapEntry{key: key, value: value})
	return m
}

// Get returns the value stored under key.
func (m *Map) Get(key any) (any, bool) {
	for _, e := range m.entries {
		if sameKey(e.key, key) {
			return e.value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.entries) }

// MarshalJSON encodes the map as an array of [key, value] pairs.
func (m *Map) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, len(m.entries))
	for i, e := range m.entries {
		pairs[i] = [2]any{e.key, e.value}
	}
	return jsoncodec.Marshal(pairs)
}

// Set is an insertion ordered collection of distinct elements.
type Set struct {
	elems []any
}

// NewSet returns a Set holding the given elements.
func NewSet(elems ...any) *Set {
	s := &Set{}
	for _, e := range elems {
		s.Add(e)
	}
	return s
}

// Add inserts elem unless an equal element is already present.
func (s *Set) Add(elem any) *Set {
	for _, e := range s.elems {
		if sameKey(e, elem) {
			return s
		}
	}
	s.elems = append(s.elems, elem)
	return s
}

// Len returns the number of elements.
func (s *Set) Len() int { return len(s.elems) }

// MarshalJSON encodes the set as an array.
func (s *Set) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(s.elems)
}

func sameKey(a, b any) (equal bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	// Structs holding uncomparable values in interface fields panic on ==.
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
