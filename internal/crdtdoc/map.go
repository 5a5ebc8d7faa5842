package crdtdoc

// Dot identifies the replica and per-replica logical clock value that
// produced a register write. Concurrent writes to the same key resolve
// by comparing dots: higher counter wins, replica id breaks ties.
type Dot struct {
	Replica string
	Counter uint64
}

func (d Dot) dominates(o Dot) bool {
	if d.Counter != o.Counter {
		return d.Counter > o.Counter
	}
	return d.Replica > o.Replica
}

type entry struct {
	dot Dot
	val Value
}

// Map is an LWW register map: each key is independently resolved by its
// writing dot. Nested objects are child *Map values created on demand;
// they are structural containers, not themselves registers, so
// concurrent edits to different leaves of the same nested object never
// conflict with each other.
type Map struct {
	entries map[string]entry
}

func newMap() *Map {
	return &Map{entries: make(map[string]entry)}
}

// Get returns the live (non-tombstoned) value at key.
func (m *Map) Get(key string) (Value, bool) {
	e, ok := m.entries[key]
	if !ok || e.val.Kind == KindNull {
		return Value{}, false
	}
	return e.val, true
}

// Keys returns the keys currently holding a live value.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.val.Kind != KindNull {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetMap returns the child map at key if key holds a map value.
func (m *Map) GetMap(key string) (*Map, bool) {
	e, ok := m.entries[key]
	if !ok || e.val.Kind != KindMap {
		return nil, false
	}
	return e.val.Map, true
}

func (m *Map) setLocal(key string, val Value, dot Dot) bool {
	existing, ok := m.entries[key]
	if ok && !dot.dominates(existing.dot) && existing.dot != dot {
		return false
	}
	m.entries[key] = entry{dot: dot, val: val}
	return true
}
