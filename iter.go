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

import "github.com/cockroachdb/errors"

// Iterator is a forward position in a Set or Map. Iterators are comparable:
// two iterators are equal iff they refer to the same position of the same
// table, so the usual loop is
//
//	for it := m.Begin(); it != m.End(); it = it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//
// Regular elements are visited in slot order, followed by the elements with
// reserved bit patterns. Any operation that may reallocate (inserting a new
// key, Reserve, Rehash, Swap, Close) invalidates every outstanding Iterator
// as well as pointers returned by ValuePtr and Map.Entry. Deletion and Clear
// do not move elements.
type Iterator[K comparable, V any] struct {
	t *table[K, V]
	i uintptr
}

// Valid returns false for the end position and for the zero Iterator.
func (it Iterator[K, V]) Valid() bool {
	return it.t != nil && it.i < it.t.end()
}

// Next returns the position following it. Next of the end position is the
// end position.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	return Iterator[K, V]{t: it.t, i: it.t.seek(it.i + 1)}
}

// Key returns the key at it. It must not be called on the end position.
func (it Iterator[K, V]) Key() K {
	return it.t.slots.At(it.i).key
}

// Value returns the value at it. It must not be called on the end position.
func (it Iterator[K, V]) Value() V {
	return it.t.slots.At(it.i).value
}

// ValuePtr returns a pointer to the value at it, which may be used to update
// the value in place.
func (it Iterator[K, V]) ValuePtr() *V {
	return &it.t.slots.At(it.i).value
}

func (t *table[K, V]) begin() Iterator[K, V] {
	return Iterator[K, V]{t: t, i: t.seek(0)}
}

func (t *table[K, V]) endIter() Iterator[K, V] {
	return Iterator[K, V]{t: t, i: t.end()}
}

func (t *table[K, V]) findIter(key K) Iterator[K, V] {
	if i, ok := t.find(key); ok {
		return Iterator[K, V]{t: t, i: i}
	}
	return t.endIter()
}

// deleteAt erases the element at it and returns the following position.
func (t *table[K, V]) deleteAt(it Iterator[K, V]) Iterator[K, V] {
	if it.t != t {
		panic(errors.AssertionFailedf("iterator does not belong to this table"))
	}
	t.eraseAt(it.i)
	return Iterator[K, V]{t: t, i: t.seek(it.i + 1)}
}
