// Copyright 2024 The hash-map Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashmap provides Map, a hash table mapping keys to values using
// open addressing with linear probing to resolve collisions. If you're not
// familiar with open addressing see
// https://en.wikipedia.org/wiki/Open_addressing and
// https://en.wikipedia.org/wiki/Linear_probing.
//
// Linear probing keeps all entries in a single contiguous slot array which
// makes lookups cache friendly. Deletion rearranges later entries of the
// probe sequence backward into the vacated slot instead of marking the slot
// as deleted. Under a high rate of churn (many paired inserts and deletes)
// tombstone schemes degrade because most slots end up marked deleted and
// probing scans most of the table; shifting keeps probe chains short. See
// https://en.wikipedia.org/wiki/Lazy_deletion for the contrast.
//
// The price of the scheme is memory: the maximum load factor is 0.5, so at
// least half of the slot array is always empty. The allocator is only
// consulted when the load factor would grow beyond that bound.
//
// A slot's occupancy is determined solely by its key: a slot is empty iff
// its key equals the map's reserved empty key, chosen at construction. The
// empty key can therefore never be used as a real key. A per-slot occupancy
// bit would lift that restriction at the cost of extra memory per slot and
// extra branches on every probe step; this implementation keeps the
// sentinel.
//
// The hash function, key equality, slot allocation, and capacity growth are
// all injectable via options; see WithHash, WithKeyEqual, WithAllocator,
// and WithGrowthPolicy.
//
// A Map is NOT goroutine-safe.
package hashmap

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	debug = false

	// maxLoadFactor is the occupancy bound after which the table grows.
	// Capping the load factor at 0.5 guarantees every probe sequence
	// reaches an empty slot before cycling.
	maxLoadFactor = 0.5
)

// ErrKeyNotFound is returned by At when the key is not present in the map.
var ErrKeyNotFound = errors.New("hashmap: key not found")

// Slot holds a key and value. A slot is empty iff its key equals the map's
// empty key; there is no out-of-band occupancy state.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values with Insert, Get, Delete, and
// All operations, implemented as an open-addressing hash table with linear
// probing and shift-backward deletion. One key value, chosen at
// construction, is reserved to mark empty slots and must never be used as a
// real key. By default a Map[K,V] uses the same hash function as Go's
// builtin map[K]V, though a different hash function can be specified using
// the WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// The hash function applied to keys of type K. By default it is
	// extracted from the Go runtime's implementation of map[K]struct{}.
	hash hashFn
	seed uintptr
	// The equality function applied to keys, both for user keys and for
	// the empty-key occupancy test.
	keyEqual func(a, b K) bool
	// The allocator used for the slot array.
	allocator Allocator[K, V]
	// The policy mapping hash values to slot indices and rounding
	// requested capacities.
	policy GrowthPolicy
	// The reserved key value marking empty slots.
	emptyKey K
	// The slot array. len(slots) is always a power of two.
	slots []Slot[K, V]
	// The number of occupied slots.
	size int
}

// New constructs a Map with at least the specified initial capacity.
// emptyKey is the reserved key value used to mark empty slots; inserting or
// looking up the empty key is a contract violation. The zero value for a
// Map is not usable.
func New[K comparable, V any](initialCapacity int, emptyKey K, options ...option[K, V]) (*Map[K, V], error) {
	m := &Map[K, V]{
		hash:      getRuntimeHasher[K](),
		seed:      uintptr(fastrand64()),
		keyEqual:  func(a, b K) bool { return a == b },
		allocator: defaultAllocator[K, V]{},
		policy:    PowerOfTwoGrowthPolicy{},
		emptyKey:  emptyKey,
	}

	for _, op := range options {
		op.apply(m)
	}

	capacity := uintptr(0)
	if initialCapacity > 0 {
		capacity = uintptr(initialCapacity)
	}
	if minimum := m.policy.MinimumCapacity(); capacity < minimum {
		capacity = minimum
	}
	capacity = m.policy.ComputeClosestCapacity(capacity)

	slots, err := m.allocator.AllocSlots(int(capacity))
	if err != nil {
		return nil, errors.Wrap(err, "hashmap: new")
	}
	m.slots = slots
	for i := range m.slots {
		m.slots[i].key = m.emptyKey
	}

	m.checkInvariants()
	return m, nil
}

// Close closes the map, releasing the slot array back to its configured
// allocator. It is unnecessary to close a map using the default allocator.
// It is invalid to use a Map after it has been closed, though Close itself
// is idempotent.
func (m *Map[K, V]) Close() {
	if m.slots != nil {
		m.allocator.FreeSlots(m.slots)
		m.slots = nil
		m.size = 0
	}
	m.allocator = nil
}

// Insert inserts an entry into the map if no entry with the same key is
// already present, returning inserted=true. If the key is present the
// existing value is left untouched and inserted=false is returned; Insert
// never overwrites. An error is returned only if growing the table fails,
// in which case the map is unchanged.
func (m *Map[K, V]) Insert(key K, value V) (inserted bool, err error) {
	m.assertNotEmptyKey(key)

	// Growth is checked before the new entry is considered, never after,
	// so the load factor bound holds while probing below.
	if err := m.checkGrowth(); err != nil {
		return false, err
	}

	// NB: the probe loop is repeated in Emplace and uncheckedInsert rather
	// than shared so that the common Insert path does not pay for a
	// constructor closure.
	for idx := m.keyToIndex(key); ; idx = m.probeNext(idx) {
		s := &m.slots[idx]
		if m.keyEqual(s.key, m.emptyKey) {
			if debug {
				fmt.Printf("insert(%v): index=%d size=%d\n", key, idx, m.size+1)
			}
			s.key = key
			s.value = value
			m.size++
			m.checkInvariants()
			return true, nil
		}
		if m.keyEqual(s.key, key) {
			return false, nil
		}
	}
}

// Emplace inserts an entry constructed by construct if no entry with the
// same key is already present. The constructor is only invoked when an
// insertion actually happens. The returned pointer refers to the value
// stored in the map and is invalidated by any subsequent mutating
// operation.
func (m *Map[K, V]) Emplace(key K, construct func() V) (value *V, inserted bool, err error) {
	m.assertNotEmptyKey(key)

	if err := m.checkGrowth(); err != nil {
		return nil, false, err
	}

	for idx := m.keyToIndex(key); ; idx = m.probeNext(idx) {
		s := &m.slots[idx]
		if m.keyEqual(s.key, m.emptyKey) {
			s.key = key
			s.value = construct()
			m.size++
			m.checkInvariants()
			return &s.value, true, nil
		}
		if m.keyEqual(s.key, key) {
			return &s.value, false, nil
		}
	}
}

// GetOrInsert returns a pointer to the value stored for key, inserting a
// zero value first if the key is not present. The returned pointer is
// invalidated by any subsequent mutating operation.
func (m *Map[K, V]) GetOrInsert(key K) (*V, error) {
	v, _, err := m.Emplace(key, func() V { var zero V; return zero })
	return v, err
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	idx, ok := m.find(key)
	if !ok {
		return value, false
	}
	return m.slots[idx].value, true
}

// At retrieves the value for the specified key, failing with ErrKeyNotFound
// if the key is not present.
func (m *Map[K, V]) At(key K) (V, error) {
	v, ok := m.Get(key)
	if !ok {
		return v, errors.Wrapf(ErrKeyNotFound, "at(%v)", key)
	}
	return v, nil
}

// Count returns the number of entries stored for key: 0 or 1.
func (m *Map[K, V]) Count(key K) int {
	if _, ok := m.find(key); ok {
		return 1
	}
	return 0
}

// Contains reports whether the map holds an entry for key.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.find(key)
	return ok
}

// Delete deletes the entry corresponding to the specified key from the map,
// reporting whether an entry was present. The vacated slot's value is left
// as last written until the slot is reused; callers whose values hold
// resources must release them before deleting.
func (m *Map[K, V]) Delete(key K) bool {
	idx, ok := m.find(key)
	if !ok {
		return false
	}
	m.deleteAt(idx)
	m.checkInvariants()
	return true
}

// deleteAt vacates the slot at index freed, shifting later entries of the
// probe sequence backward rather than leaving a tombstone. Walking forward
// from freed: an empty slot ends the probe chain, so freed can simply be
// emptied. Otherwise, the entry at idx may be moved into freed only if
// doing so does not place it before its home index in circular order, i.e.
// if diff(freed, home) < diff(idx, home). After such a move the scan
// continues with freed=idx. This keeps every remaining key reachable from
// its home index without crossing an empty slot, even mid-scan.
func (m *Map[K, V]) deleteAt(freed uintptr) {
	for idx := m.probeNext(freed); ; idx = m.probeNext(idx) {
		s := &m.slots[idx]
		if m.keyEqual(s.key, m.emptyKey) {
			m.slots[freed].key = m.emptyKey
			m.size--
			if debug {
				fmt.Printf("delete: vacated=%d size=%d\n", freed, m.size)
			}
			return
		}

		ideal := m.keyToIndex(s.key)
		if m.probeDistance(freed, ideal) < m.probeDistance(idx, ideal) {
			// freed is closer to the entry's home than its current slot;
			// shift it backward and continue with its old slot.
			if debug {
				fmt.Printf("delete: shift %d -> %d (home=%d)\n", idx, freed, ideal)
			}
			m.slots[freed] = *s
			freed = idx
		}
	}
}

// Iterator is a forward-only cursor over the occupied slots of a Map.
// Obtain one from Iter, then alternate Next with Key/Value:
//
//	for it := m.Iter(); it.Next(); {
//		fmt.Println(it.Key(), it.Value())
//	}
//
// An iterator borrows the map's slot array; it does not own it. Any
// operation that can trigger a rehash invalidates all outstanding
// iterators, and Delete invalidates iterators positioned at or after the
// shifted region. Treat an iterator as invalidated by any mutating
// operation unless it was just re-derived (see DeleteAt).
type Iterator[K comparable, V any] struct {
	m   *Map[K, V]
	idx int
}

// Iter returns an iterator positioned before the first occupied slot.
func (m *Map[K, V]) Iter() Iterator[K, V] {
	return Iterator[K, V]{m: m, idx: -1}
}

// Next advances the iterator past any empty slots to the next occupied
// slot, reporting whether one exists.
func (it *Iterator[K, V]) Next() bool {
	for it.idx++; it.idx < len(it.m.slots); it.idx++ {
		if !it.m.keyEqual(it.m.slots[it.idx].key, it.m.emptyKey) {
			return true
		}
	}
	return false
}

// Key returns the key at the iterator's position. It must only be called
// after a call to Next that returned true.
func (it Iterator[K, V]) Key() K {
	return it.m.slots[it.idx].key
}

// Value returns the value at the iterator's position. It must only be
// called after a call to Next that returned true.
func (it Iterator[K, V]) Value() V {
	return it.m.slots[it.idx].value
}

// DeleteAt deletes the entry at the iterator's position and returns a fresh
// iterator whose Next resumes at the vacated slot, so an entry shifted
// backward into it is still visited. The passed-in iterator must not be
// used again. If the shift wraps around the end of the slot array a
// relocated entry may be visited twice or not at all; the deletion itself
// is always complete.
func (m *Map[K, V]) DeleteAt(it Iterator[K, V]) Iterator[K, V] {
	m.deleteAt(uintptr(it.idx))
	m.checkInvariants()
	return Iterator[K, V]{m: m, idx: it.idx - 1}
}

// All calls yield sequentially for each key and value present in the map.
// If yield returns false, iteration stops. The slot array is captured
// before iterating, so a rehash triggered during iteration does not
// invalidate the walk (mutations may or may not be visible to it).
//
// TODO: expose this as an iter.Seq2 once the module can require Go 1.23.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	slots := m.slots
	for i := range slots {
		if !m.keyEqual(slots[i].key, m.emptyKey) {
			if !yield(slots[i].key, slots[i].value) {
				return
			}
		}
	}
}

// Rehash grows (or shrinks) the slot array to hold at least count slots,
// bounded below by the growth policy's minimum and by the capacity needed
// to keep the current size within the maximum load factor. The replacement
// table is fully built before the map's state is swapped, so on allocation
// failure the map is left in its prior valid state. All outstanding
// iterators and value pointers are invalidated.
func (m *Map[K, V]) Rehash(count int) error {
	capacity := uintptr(0)
	if count > 0 {
		capacity = uintptr(count)
	}
	if minimum := m.policy.MinimumCapacity(); capacity < minimum {
		capacity = minimum
	}
	if byLoad := uintptr(float64(m.size) / maxLoadFactor); capacity < byLoad {
		capacity = byLoad
	}
	capacity = m.policy.ComputeClosestCapacity(capacity)

	slots, err := m.allocator.AllocSlots(int(capacity))
	if err != nil {
		return errors.Wrapf(err, "hashmap: rehash to %d slots", capacity)
	}

	if debug {
		fmt.Printf("rehash: capacity=%d->%d size=%d\n", len(m.slots), capacity, m.size)
	}

	other := Map[K, V]{
		hash:      m.hash,
		seed:      m.seed,
		keyEqual:  m.keyEqual,
		allocator: m.allocator,
		policy:    m.policy,
		emptyKey:  m.emptyKey,
		slots:     slots,
	}
	for i := range other.slots {
		other.slots[i].key = other.emptyKey
	}
	// Probe placement in the replacement table is recomputed from scratch;
	// no attempt is made to preserve physical slot order.
	for i := range m.slots {
		if !m.keyEqual(m.slots[i].key, m.emptyKey) {
			other.uncheckedInsert(m.slots[i].key, m.slots[i].value)
		}
	}

	m.Swap(&other)
	if len(other.slots) > 0 {
		m.allocator.FreeSlots(other.slots)
	}

	m.checkInvariants()
	return nil
}

// Reserve rehashes so that n entries fit without further growth.
func (m *Map[K, V]) Reserve(n int) error {
	count := int(float64(n) / maxLoadFactor)
	if float64(count)*maxLoadFactor < float64(n) {
		count++
	}
	return m.Rehash(count)
}

// Swap exchanges the whole state of m and other. There is no partial
// aliasing: each map wholly owns its slot array before and after the swap.
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	*m, *other = *other, *m
}

// Clear removes all entries from the map, retaining the current capacity.
func (m *Map[K, V]) Clear() {
	for i := range m.slots {
		if !m.keyEqual(m.slots[i].key, m.emptyKey) {
			m.slots[i].key = m.emptyKey
		}
	}
	m.size = 0
	m.checkInvariants()
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.size
}

// Empty reports whether the map holds no entries.
func (m *Map[K, V]) Empty() bool {
	return m.size == 0
}

// BucketCount returns the number of slots in the map's slot array.
func (m *Map[K, V]) BucketCount() int {
	return len(m.slots)
}

// MaxLoadFactor returns the load factor bound after which the table grows.
func (m *Map[K, V]) MaxLoadFactor() float64 {
	return maxLoadFactor
}

// EmptyKey returns the reserved key value marking empty slots.
func (m *Map[K, V]) EmptyKey() K {
	return m.emptyKey
}

// find probes forward from the key's home index, returning the slot index
// on an equal-key match. The first empty slot encountered terminates the
// probe sequence and reports the key as absent; this is the property that
// avoids scanning the whole array on misses.
func (m *Map[K, V]) find(key K) (uintptr, bool) {
	m.assertNotEmptyKey(key)

	for idx := m.keyToIndex(key); ; idx = m.probeNext(idx) {
		s := &m.slots[idx]
		if m.keyEqual(s.key, key) {
			return idx, true
		}
		if m.keyEqual(s.key, m.emptyKey) {
			return 0, false
		}
	}
}

// uncheckedInsert inserts an entry known not to be in the table, into a
// table known to have room for it. Used by Rehash to populate the
// replacement table.
func (m *Map[K, V]) uncheckedInsert(key K, value V) {
	for idx := m.keyToIndex(key); ; idx = m.probeNext(idx) {
		s := &m.slots[idx]
		if m.keyEqual(s.key, m.emptyKey) {
			s.key = key
			s.value = value
			m.size++
			return
		}
	}
}

// checkGrowth quadruples the table's capacity if one more entry would push
// the load factor beyond the bound. Growth always quadruples regardless of
// how far the threshold is exceeded; amortized-cheap at the cost of some
// memory overshoot.
func (m *Map[K, V]) checkGrowth() error {
	if float64(m.size+1) > float64(len(m.slots))*maxLoadFactor {
		return m.Rehash(len(m.slots) << 2)
	}
	return nil
}

func (m *Map[K, V]) keyToIndex(key K) uintptr {
	h := m.hash(noescape(unsafe.Pointer(&key)), m.seed)
	return m.policy.ComputeIndex(h, m.capacity())
}

func (m *Map[K, V]) probeNext(idx uintptr) uintptr {
	return m.policy.ComputeIndex(idx+1, m.capacity())
}

// probeDistance returns the circular distance from index b forward to
// index a.
func (m *Map[K, V]) probeDistance(a, b uintptr) uintptr {
	return m.policy.ComputeIndex(m.capacity()+(a-b), m.capacity())
}

func (m *Map[K, V]) capacity() uintptr {
	return uintptr(len(m.slots))
}

// assertNotEmptyKey panics if key is the reserved empty key. Passing the
// empty key to a key-accepting operation is a contract violation, caught
// only under the invariants build tag.
func (m *Map[K, V]) assertNotEmptyKey(key K) {
	if invariants && m.keyEqual(key, m.emptyKey) {
		panic("hashmap: reserved empty key used as a map key")
	}
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if c := len(m.slots); c&(c-1) != 0 || uintptr(c) < m.policy.MinimumCapacity() {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two >= %d\n%s",
				c, m.policy.MinimumCapacity(), m.debugString()))
		}

		// Every occupied key must be reachable by probing forward from its
		// home index without crossing an empty slot.
		var occupied int
		for i := range m.slots {
			if m.keyEqual(m.slots[i].key, m.emptyKey) {
				continue
			}
			occupied++
			if _, ok := m.find(m.slots[i].key); !ok {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v not reachable from home index %d\n%s",
					i, m.slots[i].key, m.keyToIndex(m.slots[i].key), m.debugString()))
			}
		}

		if occupied != m.size {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but size is %d\n%s",
				occupied, m.size, m.debugString()))
		}

		if float64(m.size) > float64(len(m.slots))*maxLoadFactor {
			panic(fmt.Sprintf("invariant failed: load factor %d/%d exceeds %v\n%s",
				m.size, len(m.slots), maxLoadFactor, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  size=%d\n", len(m.slots), m.size)
	for i := range m.slots {
		if m.keyEqual(m.slots[i].key, m.emptyKey) {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		} else {
			fmt.Fprintf(&buf, "  %4d: %v [home=%d]\n", i, m.slots[i].key, m.keyToIndex(m.slots[i].key))
		}
	}
	return buf.String()
}
