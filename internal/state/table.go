package state

import (
	"cmp"
	"slices"
)

// journal records undo actions for mutations made inside a transaction.
type journal struct {
	active bool
	undo   []func()
}

func (j *journal) record(f func()) {
	if j.active {
		j.undo = append(j.undo, f)
	}
}

func (j *journal) begin() {
	j.active = true
	j.undo = j.undo[:0]
}

func (j *journal) commit() {
	j.active = false
	j.undo = j.undo[:0]
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.active = false
	j.undo = j.undo[:0]
}

// table is a map whose mutations are journaled. Values are stored by value;
// callers must not mutate maps or slices reachable from a stored value and
// should Put a modified copy instead.
type table[K cmp.Ordered, V any] struct {
	rows map[K]V
	j    *journal
}

func newTable[K cmp.Ordered, V any](j *journal) *table[K, V] {
	return &table[K, V]{rows: make(map[K]V), j: j}
}

func (t *table[K, V]) Get(k K) (V, bool) {
	v, ok := t.rows[k]
	return v, ok
}

func (t *table[K, V]) Has(k K) bool {
	_, ok := t.rows[k]
	return ok
}

func (t *table[K, V]) Put(k K, v V) {
	old, existed := t.rows[k]
	t.j.record(func() {
		if existed {
			t.rows[k] = old
		} else {
			delete(t.rows, k)
		}
	})
	t.rows[k] = v
}

func (t *table[K, V]) Delete(k K) {
	old, existed := t.rows[k]
	if !existed {
		return
	}
	t.j.record(func() { t.rows[k] = old })
	delete(t.rows, k)
}

func (t *table[K, V]) Len() int {
	return len(t.rows)
}

// Keys returns the keys in ascending order so iteration is deterministic.
func (t *table[K, V]) Keys() []K {
	keys := make([]K, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// load replaces the contents without journaling. Used by snapshot restore.
func (t *table[K, V]) load(rows map[K]V) {
	t.rows = make(map[K]V, len(rows))
	for k, v := range rows {
		t.rows[k] = v
	}
}

// setIndex maps an owner key to a set of member keys. Mutations are journaled
// like table mutations.
type setIndex struct {
	rows map[int64]map[int64]struct{}
	j    *journal
}

func newSetIndex(j *journal) *setIndex {
	return &setIndex{rows: make(map[int64]map[int64]struct{}), j: j}
}

func (x *setIndex) Add(owner, member int64) {
	set, ok := x.rows[owner]
	if ok {
		if _, dup := set[member]; dup {
			return
		}
	} else {
		set = make(map[int64]struct{})
		x.rows[owner] = set
	}
	set[member] = struct{}{}
	x.j.record(func() { x.remove(owner, member) })
}

func (x *setIndex) Remove(owner, member int64) {
	if !x.remove(owner, member) {
		return
	}
	x.j.record(func() { x.add(owner, member) })
}

// Members returns the members of owner in ascending order.
func (x *setIndex) Members(owner int64) []int64 {
	set := x.rows[owner]
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (x *setIndex) add(owner, member int64) {
	set, ok := x.rows[owner]
	if !ok {
		set = make(map[int64]struct{})
		x.rows[owner] = set
	}
	set[member] = struct{}{}
}

func (x *setIndex) remove(owner, member int64) bool {
	set, ok := x.rows[owner]
	if !ok {
		return false
	}
	if _, ok := set[member]; !ok {
		return false
	}
	delete(set, member)
	if len(set) == 0 {
		delete(x.rows, owner)
	}
	return true
}

// reset drops all rows without journaling. Used by snapshot restore.
func (x *setIndex) reset() {
	x.rows = make(map[int64]map[int64]struct{})
}
