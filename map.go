// Copyright 2024 The Cockroach Authors
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

package rawtable

import (
	"iter"

	"github.com/cockroachdb/errors"
)

// ErrKeyNotFound is returned by Map.At for a key that is not present.
var ErrKeyNotFound = errors.New("key not found")

// Map is an unordered map from Rawable keys to values with Put, Get, Delete,
// and All operations. Each value is stored next to its key in the element
// array. The zero value is not usable; use NewMap.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	t table[K, V]
}

// NewMap constructs a map able to hold capacity entries without resizing.
// The slot count is 2*capacity rounded up to a power of two, and at least 16.
// Storage is not allocated until the first insertion. NewMap panics with an
// error marked ErrNotRawable if K is not Rawable.
func NewMap[K comparable, V any](capacity int, options ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.t.init(capacity, options...)
	return m
}

// CollectMap returns a map holding the pairs produced by seq. Later pairs
// overwrite earlier ones with the same key.
func CollectMap[K comparable, V any](seq iter.Seq2[K, V], options ...Option[K, V]) *Map[K, V] {
	m := NewMap[K, V](0, options...)
	for k, v := range seq {
		m.Put(k, v)
	}
	return m
}

// Close releases the map's storage back to its allocator. It is unnecessary
// to close a map using the default allocator. It is invalid to use a Map
// after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	m.t.close()
}

// Clone returns a shallow copy of m sharing its hash function, seed and
// allocator.
func (m *Map[K, V]) Clone() *Map[K, V] {
	return &Map[K, V]{t: m.t.clone()}
}

// Swap exchanges the contents of m and other.
func (m *Map[K, V]) Swap(other *Map[K, V]) {
	m.t, other.t = other.t, m.t
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Put(key K, value V) {
	i, _ := m.t.tryInsert(key)
	m.t.slots.At(i).value = value
}

// TryInsert inserts an entry if key is not present. It returns the position
// of key and whether the entry was inserted; an existing value is never
// overwritten.
func (m *Map[K, V]) TryInsert(key K, value V) (Iterator[K, V], bool) {
	i, inserted := m.t.tryInsert(key)
	if inserted {
		m.t.slots.At(i).value = value
	}
	return Iterator[K, V]{t: &m.t, i: i}, inserted
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.t.find(key)
	if !ok {
		return value, false
	}
	return m.t.slots.At(i).value, true
}

// At retrieves the value for key, or returns an error satisfying
// errors.Is(err, ErrKeyNotFound).
func (m *Map[K, V]) At(key K) (V, error) {
	v, ok := m.Get(key)
	if !ok {
		return v, errors.Wrapf(ErrKeyNotFound, "key %v", key)
	}
	return v, nil
}

// Entry returns a pointer to the value for key, first inserting key with the
// zero value if it is not present. It is the counterpart of m[key] on the
// left of an assignment and never fails. The pointer is invalidated by the
// next insertion of a new key.
func (m *Map[K, V]) Entry(key K) *V {
	i, _ := m.t.tryInsert(key)
	return &m.t.slots.At(i).value
}

// Delete deletes the entry corresponding to the specified key from the map,
// returning whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	return m.t.erase(key)
}

// DeleteAt removes the entry at it and returns the following position.
func (m *Map[K, V]) DeleteAt(it Iterator[K, V]) Iterator[K, V] {
	return m.t.deleteAt(it)
}

// Clear removes all entries, keeping the storage.
func (m *Map[K, V]) Clear() {
	m.t.clear()
}

// Reserve makes room for n entries without further resizing. It is
// Rehash(2*n) and so may also shrink the map.
func (m *Map[K, V]) Reserve(n int) {
	m.t.rehash(2 * n)
}

// Rehash resizes the map to max(n, 2*Len(), 16) slots rounded up to a power of
// two, dropping all tombstones. It does nothing if the slot count would not
// change.
func (m *Map[K, V]) Rehash(n int) {
	m.t.rehash(n)
}

// Find returns the position of key, or End() if key is not present.
func (m *Map[K, V]) Find(key K) Iterator[K, V] {
	return m.t.findIter(key)
}

// Contains returns whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.t.find(key)
	return ok
}

// Count returns 1 if key is present and 0 otherwise.
func (m *Map[K, V]) Count(key K) int {
	if m.Contains(key) {
		return 1
	}
	return 0
}

// Begin returns the position of the first entry, or End() if m is empty.
func (m *Map[K, V]) Begin() Iterator[K, V] {
	return m.t.begin()
}

// End returns the position one past the last entry.
func (m *Map[K, V]) End() Iterator[K, V] {
	return m.t.endIter()
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. The map can be mutated during
// iteration, though there is no guarantee that the mutations will be visible
// to the iteration.
//
//	for k, v := range m.All {
//		fmt.Printf("%v: %v\n", k, v)
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.t.all(func(s *Slot[K, V]) bool {
		return yield(s.key, s.value)
	})
}

// EqualFunc returns whether m and other hold the same keys with values that
// are equal according to eq.
func (m *Map[K, V]) EqualFunc(other *Map[K, V], eq func(a, b V) bool) bool {
	if m.Len() != other.Len() {
		return false
	}
	equal := true
	m.All(func(k K, v V) bool {
		ov, ok := other.Get(k)
		equal = ok && eq(v, ov)
		return equal
	})
	return equal
}

// MapsEqual returns whether a and b hold the same entries.
func MapsEqual[K, V comparable](a, b *Map[K, V]) bool {
	return a.EqualFunc(b, func(x, y V) bool { return x == y })
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.t.used
}

// Empty returns whether the map holds no entries.
func (m *Map[K, V]) Empty() bool {
	return m.t.used == 0
}

// Capacity returns the number of entries the map can hold before it must
// grow.
func (m *Map[K, V]) Capacity() int {
	return int(m.t.slotCount / 2)
}

// SlotCount returns the number of regular slots.
func (m *Map[K, V]) SlotCount() int {
	return int(m.t.slotCount)
}

// LoadFactor returns Len()/SlotCount().
func (m *Map[K, V]) LoadFactor() float64 {
	return float64(m.t.used) / float64(m.t.slotCount)
}

// MaxLoadFactor returns the constant MaxLoadFactor.
func (m *Map[K, V]) MaxLoadFactor() float64 {
	return MaxLoadFactor
}

// Slot returns the home slot of key: the slot its probe walk starts from, or
// for a key with a reserved bit pattern, the index of its special slot.
func (m *Map[K, V]) Slot(key K) int {
	return m.t.slotOf(key)
}
