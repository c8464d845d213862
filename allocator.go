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

package hashmap

import "unsafe"

// Allocator specifies an interface for acquiring and releasing the slot
// array used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// A Map invokes the allocator exactly once per array allocation and once
// per release. If the allocator is manually managing memory, Map.Close
// must be called in order to ensure FreeSlots is called for the final
// array.
type Allocator[K comparable, V any] interface {
	// AllocSlots should return a slice equivalent to make([]Slot[K,V], n),
	// or an error if the allocation cannot be satisfied. On error the
	// triggering map operation fails and the map is left unchanged.
	AllocSlots(n int) ([]Slot[K, V], error)

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) ([]Slot[K, V], error) {
	return make([]Slot[K, V], n), nil
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

// MemoryTracker accumulates live and peak byte counts for allocations made
// through a CountingAllocator. It is an explicit, caller-supplied object
// rather than process-wide state; a single tracker may be shared by
// several maps. Like the Map itself it is not goroutine-safe.
type MemoryTracker struct {
	cur  int
	peak int
}

// Bytes returns the bytes currently allocated and not yet freed.
func (t *MemoryTracker) Bytes() int {
	return t.cur
}

// PeakBytes returns the high-water mark of Bytes since the last reset.
func (t *MemoryTracker) PeakBytes() int {
	return t.peak
}

// ResetPeak zeroes the peak count, leaving the live count intact.
func (t *MemoryTracker) ResetPeak() {
	t.peak = 0
}

// Reset zeroes both the live and peak counts.
func (t *MemoryTracker) Reset() {
	t.cur = 0
	t.peak = 0
}

func (t *MemoryTracker) use(bytes int) {
	t.cur += bytes
	if t.cur > t.peak {
		t.peak = t.cur
	}
}

func (t *MemoryTracker) reclaim(bytes int) {
	t.cur -= bytes
}

// CountingAllocator wraps another Allocator and charges the byte size of
// every slot array it hands out against a MemoryTracker.
type CountingAllocator[K comparable, V any] struct {
	tracker *MemoryTracker
	inner   Allocator[K, V]
}

// NewCountingAllocator returns an allocator which delegates to inner and
// records byte counts in tracker. A nil inner delegates to the default
// make-backed allocator.
func NewCountingAllocator[K comparable, V any](
	tracker *MemoryTracker, inner Allocator[K, V],
) *CountingAllocator[K, V] {
	if inner == nil {
		inner = defaultAllocator[K, V]{}
	}
	return &CountingAllocator[K, V]{tracker: tracker, inner: inner}
}

func (a *CountingAllocator[K, V]) AllocSlots(n int) ([]Slot[K, V], error) {
	v, err := a.inner.AllocSlots(n)
	if err != nil {
		return nil, err
	}
	a.tracker.use(n * int(unsafe.Sizeof(Slot[K, V]{})))
	return v, nil
}

func (a *CountingAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
	a.inner.FreeSlots(v)
	a.tracker.reclaim(len(v) * int(unsafe.Sizeof(Slot[K, V]{})))
}
