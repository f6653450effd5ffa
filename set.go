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

import "iter"

// Set is an unordered set of Rawable keys. The zero value is not usable; use
// NewSet.
//
// A Set is NOT goroutine-safe.
type Set[K comparable] struct {
	t table[K, struct{}]
}

// NewSet constructs a set able to hold capacity keys without resizing. The
// slot count is 2*capacity rounded up to a power of two, and at least 16.
// Storage is not allocated until the first insertion. NewSet panics with an
// error marked ErrNotRawable if K is not Rawable.
func NewSet[K comparable](capacity int, options ...Option[K, struct{}]) *Set[K] {
	s := &Set[K]{}
	s.t.init(capacity, options...)
	return s
}

// SetOf returns a set holding keys.
func SetOf[K comparable](keys ...K) *Set[K] {
	s := NewSet[K](len(keys))
	for _, k := range keys {
		s.Insert(k)
	}
	return s
}

// CollectSet returns a set holding the keys produced by seq.
func CollectSet[K comparable](seq iter.Seq[K], options ...Option[K, struct{}]) *Set[K] {
	s := NewSet[K](0, options...)
	for k := range seq {
		s.Insert(k)
	}
	return s
}

// Close releases the set's storage back to its allocator. It is unnecessary
// to close a set using the default allocator. It is invalid to use a Set
// after it has been closed, though Close itself is idempotent.
func (s *Set[K]) Close() {
	s.t.close()
}

// Clone returns a copy of s sharing its hash function, seed and allocator.
func (s *Set[K]) Clone() *Set[K] {
	return &Set[K]{t: s.t.clone()}
}

// Swap exchanges the contents of s and other.
func (s *Set[K]) Swap(other *Set[K]) {
	s.t, other.t = other.t, s.t
}

// Insert adds key to the set. It returns the position of key and whether it
// was added; inserting a present key leaves the set unchanged.
func (s *Set[K]) Insert(key K) (Iterator[K, struct{}], bool) {
	i, inserted := s.t.tryInsert(key)
	return Iterator[K, struct{}]{t: &s.t, i: i}, inserted
}

// Delete removes key from the set, returning whether it was present.
func (s *Set[K]) Delete(key K) bool {
	return s.t.erase(key)
}

// DeleteAt removes the key at it and returns the following position.
func (s *Set[K]) DeleteAt(it Iterator[K, struct{}]) Iterator[K, struct{}] {
	return s.t.deleteAt(it)
}

// Clear removes all keys, keeping the storage.
func (s *Set[K]) Clear() {
	s.t.clear()
}

// Reserve makes room for n keys without further resizing. It is Rehash(2*n)
// and so may also shrink the set.
func (s *Set[K]) Reserve(n int) {
	s.t.rehash(2 * n)
}

// Rehash resizes the set to max(n, 2*Len(), 16) slots rounded up to a power of
// two, dropping all tombstones. It does nothing if the slot count would not
// change.
func (s *Set[K]) Rehash(n int) {
	s.t.rehash(n)
}

// Find returns the position of key, or End() if key is not present.
func (s *Set[K]) Find(key K) Iterator[K, struct{}] {
	return s.t.findIter(key)
}

// Contains returns whether key is present.
func (s *Set[K]) Contains(key K) bool {
	_, ok := s.t.find(key)
	return ok
}

// Count returns 1 if key is present and 0 otherwise.
func (s *Set[K]) Count(key K) int {
	if s.Contains(key) {
		return 1
	}
	return 0
}

// Begin returns the position of the first key, or End() if s is empty.
func (s *Set[K]) Begin() Iterator[K, struct{}] {
	return s.t.begin()
}

// End returns the position one past the last key.
func (s *Set[K]) End() Iterator[K, struct{}] {
	return s.t.endIter()
}

// All calls yield sequentially for each key present in the set. If yield
// returns false, iteration stops. All can be used directly in a range
// statement:
//
//	for k := range s.All {
//		fmt.Println(k)
//	}
func (s *Set[K]) All(yield func(key K) bool) {
	s.t.all(func(slot *Slot[K, struct{}]) bool {
		return yield(slot.key)
	})
}

// Equal returns whether s and other hold the same keys.
func (s *Set[K]) Equal(other *Set[K]) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.All(func(k K) bool {
		equal = other.Contains(k)
		return equal
	})
	return equal
}

// Len returns the number of keys in the set.
func (s *Set[K]) Len() int {
	return s.t.used
}

// Empty returns whether the set holds no keys.
func (s *Set[K]) Empty() bool {
	return s.t.used == 0
}

// Capacity returns the number of keys the set can hold before it must grow.
func (s *Set[K]) Capacity() int {
	return int(s.t.slotCount / 2)
}

// SlotCount returns the number of regular slots.
func (s *Set[K]) SlotCount() int {
	return int(s.t.slotCount)
}

// LoadFactor returns Len()/SlotCount().
func (s *Set[K]) LoadFactor() float64 {
	return float64(s.t.used) / float64(s.t.slotCount)
}

// MaxLoadFactor returns the constant MaxLoadFactor.
func (s *Set[K]) MaxLoadFactor() float64 {
	return MaxLoadFactor
}

// Slot returns the home slot of key: the slot its probe walk starts from, or
// for a key with a reserved bit pattern, the index of its special slot.
func (s *Set[K]) Slot(key K) int {
	return s.t.slotOf(key)
}
