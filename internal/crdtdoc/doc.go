// Package crdtdoc implements a small delta-state CRDT document: a set
// of named root maps whose leaves are last-writer-wins registers tagged
// by a (replica, counter) dot. It is first-party code rather than a
// wrapper around a third-party CRDT module (see DESIGN.md); the
// document only needs to support whole-value register semantics, state
// vectors, and delta updates, so a dot-based LWW map is sufficient and
// gives the same convergence guarantee the engine's contract requires:
// applying the same update more than once, or out of order relative to
// causally unrelated updates, produces the same document.
package crdtdoc

import "sync"

// StateVector records, per replica, the highest counter this document
// has observed from that replica.
type StateVector map[string]uint64

func (sv StateVector) covers(d Dot) bool {
	return sv[d.Replica] >= d.Counter
}

// Doc is a single collaborative document. All operations are safe for
// concurrent use; Doc serializes access with a single mutex, mirroring
// the coarse-grained Mutex<Doc> the original engine uses per room.
type Doc struct {
	mu      sync.Mutex
	replica string
	counter uint64
	roots   map[string]*Map
}

// New creates an empty document. replica should be unique per process
// (or per connection, for client-originated docs); it is stamped on
// every local write this Doc performs.
func New(replica string) *Doc {
	return &Doc{replica: replica, roots: make(map[string]*Map)}
}

func (d *Doc) root(name string) *Map {
	r, ok := d.roots[name]
	if !ok {
		r = newMap()
		d.roots[name] = r
	}
	return r
}

// StateVector returns the document's current state vector.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	sv := StateVector{}
	for _, root := range d.roots {
		collectStateVector(root, sv)
	}
	return sv
}

func collectStateVector(m *Map, sv StateVector) {
	for _, e := range m.entries {
		if e.dot.Counter > sv[e.dot.Replica] {
			sv[e.dot.Replica] = e.dot.Counter
		}
		if e.val.Kind == KindMap {
			collectStateVector(e.val.Map, sv)
		}
	}
}

// EncodeStateAsUpdate returns every register this document holds whose
// dot is not covered by sv, serialized as an update. Calling it with an
// empty state vector yields the full document state (SYNC_STEP_2).
func (d *Doc) EncodeStateAsUpdate(sv StateVector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ops []op
	for name, root := range d.roots {
		collectOps([]string{name}, root, sv, &ops)
	}
	return encodeUpdate(ops)
}

func collectOps(path []string, m *Map, sv StateVector, out *[]op) {
	for key, e := range m.entries {
		if e.val.Kind == KindMap {
			collectOps(append(append([]string{}, path...), key), e.val.Map, sv, out)
			continue
		}
		if sv != nil && sv.covers(e.dot) {
			continue
		}
		*out = append(*out, op{path: path, key: key, dot: e.dot, val: e.val})
	}
}

// ApplyUpdate merges an externally produced update into the document.
// Applying the same update twice, or applying updates out of arrival
// order, converges to the same state: each register keeps only the
// dominating dot it has seen.
func (d *Doc) ApplyUpdate(update []byte) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range ops {
		m := d.root(o.path[0])
		for _, seg := range o.path[1:] {
			child, ok := m.GetMap(seg)
			if !ok {
				child = newMap()
				m.entries[seg] = entry{dot: o.dot, val: mapValue(child)}
			}
			m = child
		}
		m.setLocal(o.key, o.val, o.dot)
		if o.dot.Replica == d.replica && o.dot.Counter >= d.counter {
			d.counter = o.dot.Counter
		}
	}
	return nil
}

// Txn is a local write transaction: every Set/Delete issued through it
// is stamped with a freshly allocated dot and recorded so the
// transaction can return just the bytes it changed, the way the
// session handler needs to broadcast only the delta a client produced.
type Txn struct {
	doc *Doc
	ops []op
}

// Transact runs fn against a write transaction and returns the encoded
// update representing exactly the writes fn made (possibly empty).
func (d *Doc) Transact(fn func(tx *Txn)) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &Txn{doc: d}
	fn(tx)
	return encodeUpdate(tx.ops)
}

func (tx *Txn) nextDot() Dot {
	tx.doc.counter++
	return Dot{Replica: tx.doc.replica, Counter: tx.doc.counter}
}

// Map returns a handle on the named root map, creating it if absent.
func (tx *Txn) Map(name string) *MapHandle {
	return &MapHandle{tx: tx, path: []string{name}, m: tx.doc.root(name)}
}

// MapHandle is a transaction-scoped view of a Map at a given path,
// letting Set/Delete record the path alongside the dot they allocate.
type MapHandle struct {
	tx   *Txn
	path []string
	m    *Map
}

func (h *MapHandle) Get(key string) (Value, bool) { return h.m.Get(key) }
func (h *MapHandle) Keys() []string               { return h.m.Keys() }
func (h *MapHandle) Has(key string) bool          { _, ok := h.m.Get(key); return ok }

// SubMap returns a handle for the nested map at key, upgrading whatever
// is currently stored there (absent, or a non-map value written by an
// older or buggy writer) into a proper child map on first use.
func (h *MapHandle) SubMap(key string) *MapHandle {
	child, ok := h.m.GetMap(key)
	if !ok {
		child = newMap()
		dot := h.tx.nextDot()
		h.m.entries[key] = entry{dot: dot, val: mapValue(child)}
	}
	return &MapHandle{tx: h.tx, path: append(append([]string{}, h.path...), key), m: child}
}

// Set writes value at key with a freshly allocated local dot.
func (h *MapHandle) Set(key string, value Value) {
	dot := h.tx.nextDot()
	h.m.setLocal(key, value, dot)
	h.tx.ops = append(h.tx.ops, op{path: h.path, key: key, dot: dot, val: value})
}

// Delete tombstones key: the key becomes absent from Keys()/Get(), but
// the tombstone's dot is retained so a late, causally-older write to
// the same key cannot resurrect it.
func (h *MapHandle) Delete(key string) {
	h.Set(key, Null())
}
