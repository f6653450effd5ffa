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

// Package rawtable implements open-addressing hash sets and maps for keys
// whose bit pattern is their identity ("Rawable" keys: integers, and arrays
// and structs of integers without padding). See CheckRawable.
//
// # Sentinel Embedding
//
// Swiss tables and most other open-addressing designs keep a separate
// metadata array with one control byte per slot recording whether the slot is
// empty, deleted or full. A rawtable has no metadata array. Instead two bit
// patterns of the key type itself are reserved:
//
//	vacant: every raw word at its maximum (all bits set)
//	grave:  vacant minus one in the first raw word
//
// A regular slot holding the vacant pattern has never been filled since the
// last rehash; a slot holding the grave pattern held an element that was
// deleted (a tombstone). Anything else is a live key. For a uint64 key vacant
// is 0xffffffffffffffff and grave is 0xfffffffffffffffe.
//
// Real keys may of course equal one of the reserved patterns. Those two keys
// live out of line in two special slots placed directly after the regular
// slots, and a pair of flags records whether each is present.
//
// # Layout
//
// The element array is slotCount+7 cells long:
//
//	[0, slotCount)              regular slots, probed linearly
//	[slotCount, slotCount+2)    special slots for the vacant and grave keys
//	[slotCount+2, slotCount+7)  terminators, always the zero key
//
// slotCount is a power of two and at least 16. The special slots always hold
// sentinel bits (the vacant key, and the grave key or vacant when absent) and
// the terminators never do. The iterator skips over cells holding sentinel
// bits and so runs off the end of the regular slots straight onto the first
// terminator without comparing its position against slotCount on each step.
//
// # Probing
//
// A key's home slot is hash(key) & (slotCount-1). Lookups walk forward from
// the home slot, wrapping at slotCount, until they find the key or a vacant
// slot. Graves never stop a walk. Insertion performs the same walk but
// remembers the first grave seen and reuses it; only if there was none does
// it fill the vacant slot that ended the walk. Deletion overwrites the key
// with the grave pattern. There is no backward-shift: graves stay until the
// next rehash.
//
// The maximum load factor is 1/2 counting live regular elements only. When an
// insertion of a new key finds the table at that limit the slot count is
// doubled and the insertion retried. Graves are bounded separately: when
// filling a vacant slot would leave live elements and graves covering 3/4 of
// the slots the table is rebuilt at the same size first. This keeps at least
// one vacant slot in every table so that every walk terminates.
//
// Storage is allocated lazily on the first insertion.
//
// A Set or Map is NOT goroutine-safe.
package rawtable

import (
	"fmt"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/rand"
)

const (
	debug = false

	// MaxLoadFactor is the maximum ratio of regular elements to slots.
	MaxLoadFactor = 0.5

	minSlotCount = 16

	specialSlots    = 2
	terminatorSlots = 5
	extraSlots      = specialSlots + terminatorSlots

	// Indexes into table.haveSpecial and offsets of the special slots from
	// slotCount.
	vacantSpecial = 0
	graveSpecial  = 1

	noSlot = ^uintptr(0)
)

// Slot holds a key and value.
type Slot[K comparable, V any] struct {
	key   K
	value V
}

// table is the storage and probing engine shared by Set and Map.
type table[K comparable, V any] struct {
	hash      HashFunc[K]
	seed      uint64
	allocator Allocator[K, V]
	layout    rawLayout
	// vacant and grave are the reserved bit patterns viewed as keys. For a
	// Rawable K, == is bitwise equality, so comparing a key against them is
	// the sentinel test.
	vacant K
	grave  K
	// slots is slotCount+extraSlots in length, or nil until the first
	// insertion.
	slots unsafeSlice[Slot[K, V]]
	// The number of regular slots (always 2^N, N >= 4). The slotCount-1 is
	// used as a mask to compute i%slotCount.
	slotCount uintptr
	// The number of live elements, regular and special.
	used int
	// The number of regular slots holding the grave pattern.
	graves int
	// Whether the vacant-valued and the grave-valued keys are present.
	haveSpecial [specialSlots]bool
}

func (t *table[K, V]) init(capacity int, options ...Option[K, V]) {
	layout, err := layoutOf[K]()
	if err != nil {
		panic(err)
	}
	*t = table[K, V]{
		hash:      FastHash[K](),
		seed:      rand.Uint64(),
		allocator: defaultAllocator[K, V]{},
		layout:    layout,
		slotCount: normalizeSlotCount(2 * max(capacity, 0)),
	}
	layout.fromRaw(unsafe.Pointer(&t.vacant), layout.vacantRaw())
	layout.fromRaw(unsafe.Pointer(&t.grave), layout.graveRaw())

	for _, op := range options {
		op.apply(t)
	}
	t.checkInvariants()
}

// normalizeSlotCount returns the smallest power of two >= max(n, minSlotCount).
func normalizeSlotCount(n int) uintptr {
	if n <= minSlotCount {
		return minSlotCount
	}
	return uintptr(1) << bits.Len(uint(n-1))
}

// close releases the element array back to the allocator.
func (t *table[K, V]) close() {
	if t.slots.ptr != nil {
		t.allocator.Free(t.slots.Slice(0, t.slotCount+extraSlots))
	}
	t.slots = unsafeSlice[Slot[K, V]]{}
	t.used = 0
	t.graves = 0
	t.haveSpecial = [specialSlots]bool{}
	t.allocator = nil
}

// special returns the index of the special slot reserved for key, if key
// carries one of the reserved bit patterns.
func (t *table[K, V]) special(key *K) (int, bool) {
	switch *key {
	case t.vacant:
		return vacantSpecial, true
	case t.grave:
		return graveSpecial, true
	}
	return 0, false
}

// regular returns the number of live elements in regular slots.
func (t *table[K, V]) regular() int {
	n := t.used
	for _, ok := range t.haveSpecial {
		if ok {
			n--
		}
	}
	return n
}

func (t *table[K, V]) homeSlot(key *K) uintptr {
	return uintptr(t.hash((*K)(noescape(unsafe.Pointer(key))), t.seed)) & (t.slotCount - 1)
}

func (t *table[K, V]) slotOf(key K) int {
	if s, ok := t.special(&key); ok {
		return int(t.slotCount) + s
	}
	return int(t.homeSlot(&key))
}

// find returns the index of the slot holding key.
func (t *table[K, V]) find(key K) (uintptr, bool) {
	if t.slots.ptr == nil {
		return 0, false
	}
	if s, ok := t.special(&key); ok {
		return t.slotCount + uintptr(s), t.haveSpecial[s]
	}

	mask := t.slotCount - 1
	for i := t.homeSlot(&key); ; i = (i + 1) & mask {
		k := t.slots.At(i).key
		if k == key {
			return i, true
		}
		if k == t.vacant {
			if debug {
				fmt.Printf("find(%v): not-found at %d\n", key, i)
			}
			return i, false
		}
	}
}

// tryInsert returns the index of the slot holding key, adding key with a zero
// value if it was not present. The returned bool reports whether key was
// added.
func (t *table[K, V]) tryInsert(key K) (uintptr, bool) {
	if t.slots.ptr == nil {
		t.resize(t.slotCount)
	}

	if s, ok := t.special(&key); ok {
		i := t.slotCount + uintptr(s)
		if t.haveSpecial[s] {
			return i, false
		}
		t.haveSpecial[s] = true
		t.slots.At(i).key = key
		t.used++
		if debug {
			fmt.Printf("insert(%v): special=%d used=%d\n", key, s, t.used)
		}
		t.checkInvariants()
		return i, true
	}

	h := uintptr(t.hash((*K)(noescape(unsafe.Pointer(&key))), t.seed))
	for {
		mask := t.slotCount - 1
		grave := noSlot
		i := h & mask
		for ; ; i = (i + 1) & mask {
			k := t.slots.At(i).key
			if k == key {
				return i, false
			}
			if k == t.vacant {
				break
			}
			if k == t.grave && grave == noSlot {
				grave = i
			}
		}

		if t.regular() >= int(t.slotCount/2) {
			t.resize(2 * t.slotCount)
			continue
		}
		if grave != noSlot {
			i = grave
			t.graves--
		} else if t.regular()+t.graves >= int(t.slotCount/4*3) {
			// Filling this vacant slot would leave too few to terminate
			// walks. Drop the graves and walk again.
			t.resize(t.slotCount)
			continue
		}

		t.slots.At(i).key = key
		t.used++
		if debug {
			fmt.Printf("insert(%v): index=%d used=%d graves=%d\n", key, i, t.used, t.graves)
		}
		t.checkInvariants()
		return i, true
	}
}

// eraseAt destroys the element at index i, which must be live.
func (t *table[K, V]) eraseAt(i uintptr) {
	s := t.slots.At(i)
	if i >= t.slotCount {
		t.haveSpecial[i-t.slotCount] = false
		*s = Slot[K, V]{key: t.vacant}
	} else {
		*s = Slot[K, V]{key: t.grave}
		t.graves++
	}
	t.used--
	if debug {
		fmt.Printf("erase: index=%d used=%d graves=%d\n", i, t.used, t.graves)
	}
	t.checkInvariants()
}

func (t *table[K, V]) erase(key K) bool {
	i, ok := t.find(key)
	if !ok {
		return false
	}
	t.eraseAt(i)
	return true
}

// clear drops every element but keeps the element array.
func (t *table[K, V]) clear() {
	if t.slots.ptr != nil {
		t.resetSlots()
	}
	t.used = 0
	t.graves = 0
	t.haveSpecial = [specialSlots]bool{}
	t.checkInvariants()
}

// resetSlots marks every regular and special slot vacant and writes the
// terminators.
func (t *table[K, V]) resetSlots() {
	end := t.slotCount + specialSlots
	for i := uintptr(0); i < end; i++ {
		*t.slots.At(i) = Slot[K, V]{key: t.vacant}
	}
	for i := end; i < t.slotCount+extraSlots; i++ {
		*t.slots.At(i) = Slot[K, V]{}
	}
}

// rehash resizes the table to max(2*regular, n, minSlotCount) slots rounded up
// to a power of two. It is a noop if that is the current slot count.
func (t *table[K, V]) rehash(n int) {
	target := normalizeSlotCount(max(2*t.regular(), n))
	if target == t.slotCount {
		return
	}
	if t.slots.ptr == nil {
		t.slotCount = target
		return
	}
	t.resize(target)
}

// resize allocates an array of newSlotCount regular slots, moves every live
// element into it and frees the old array. Graves are not carried over.
func (t *table[K, V]) resize(newSlotCount uintptr) {
	oldSlots, oldSlotCount := t.slots, t.slotCount
	t.slots = makeUnsafeSlice(t.allocator.Alloc(int(newSlotCount + extraSlots)))
	t.slotCount = newSlotCount
	t.graves = 0
	t.resetSlots()

	if debug {
		fmt.Printf("resize: slots=%d->%d used=%d\n", oldSlotCount, newSlotCount, t.used)
	}

	if oldSlots.ptr == nil {
		return
	}
	for i := uintptr(0); i < oldSlotCount; i++ {
		s := oldSlots.At(i)
		if s.key == t.vacant || s.key == t.grave {
			continue
		}
		t.uncheckedPut(s)
	}
	for j := uintptr(0); j < specialSlots; j++ {
		if t.haveSpecial[j] {
			*t.slots.At(newSlotCount + j) = *oldSlots.At(oldSlotCount + j)
		}
	}
	t.allocator.Free(oldSlots.Slice(0, oldSlotCount+extraSlots))

	t.checkInvariants()
}

// uncheckedPut copies an element known not to be in the table into the first
// vacant slot of its walk. Used by resize, where there are no graves.
func (t *table[K, V]) uncheckedPut(s *Slot[K, V]) {
	mask := t.slotCount - 1
	for i := t.homeSlot(&s.key); ; i = (i + 1) & mask {
		d := t.slots.At(i)
		if d.key == t.vacant {
			*d = *s
			return
		}
	}
}

// clone returns a copy of t with its own element array.
func (t *table[K, V]) clone() table[K, V] {
	c := *t
	if t.slots.ptr != nil {
		n := t.slotCount + extraSlots
		s := t.allocator.Alloc(int(n))
		copy(s, t.slots.Slice(0, n))
		c.slots = makeUnsafeSlice(s)
	}
	return c
}

// end is the index one past the special slots. It is the position of the end
// iterator whether or not the special slots are occupied.
func (t *table[K, V]) end() uintptr {
	return t.slotCount + specialSlots
}

// seek returns the first live position at or after i, or end().
func (t *table[K, V]) seek(i uintptr) uintptr {
	if t.slots.ptr == nil {
		return t.end()
	}
	if i < t.slotCount {
		// The special slots always hold sentinel bits and the first
		// terminator never does, so this stops at end() at the latest.
		for k := t.slots.At(i).key; k == t.vacant || k == t.grave; k = t.slots.At(i).key {
			i++
		}
		if i < t.slotCount {
			return i
		}
		i = t.slotCount
	}
	for ; i < t.end(); i++ {
		if t.haveSpecial[i-t.slotCount] {
			return i
		}
	}
	return t.end()
}

// all calls yield sequentially for each live slot. The table can be mutated
// during iteration, though there is no guarantee that the mutations will be
// visible to the iteration.
func (t *table[K, V]) all(yield func(s *Slot[K, V]) bool) {
	// Snapshot the storage so that iteration remains valid if the table is
	// resized during iteration.
	snap := table[K, V]{
		vacant:      t.vacant,
		grave:       t.grave,
		slots:       t.slots,
		slotCount:   t.slotCount,
		haveSpecial: t.haveSpecial,
	}
	for i := snap.seek(0); i < snap.end(); i = snap.seek(i + 1) {
		if !yield(snap.slots.At(i)) {
			return
		}
		if t.slots == snap.slots {
			snap.haveSpecial = t.haveSpecial
		}
	}
}

func (t *table[K, V]) checkInvariants() {
	if invariants {
		if t.slotCount < minSlotCount || t.slotCount&(t.slotCount-1) != 0 {
			panic(errors.AssertionFailedf("invariant failed: slot count %d is not a power of two >= %d",
				t.slotCount, minSlotCount))
		}
		if t.slots.ptr == nil {
			if t.used != 0 || t.graves != 0 {
				panic(errors.AssertionFailedf("invariant failed: used=%d graves=%d without storage",
					t.used, t.graves))
			}
			return
		}

		// For every live regular slot, verify we can retrieve the key using
		// find. Count the number of live and grave slots.
		var used, graves int
		for i := uintptr(0); i < t.slotCount; i++ {
			k := t.slots.At(i).key
			switch k {
			case t.vacant:
			case t.grave:
				graves++
			default:
				if j, ok := t.find(k); !ok || j != i {
					panic(errors.AssertionFailedf("invariant failed: slot(%d): %v not found\n%s",
						i, k, t.debugString()))
				}
				used++
			}
		}
		if used > int(t.slotCount/2) {
			panic(errors.AssertionFailedf("invariant failed: %d regular elements in %d slots\n%s",
				used, t.slotCount, t.debugString()))
		}
		if graves != t.graves {
			panic(errors.AssertionFailedf("invariant failed: found %d graves, but grave count is %d\n%s",
				graves, t.graves, t.debugString()))
		}

		for j := uintptr(0); j < specialSlots; j++ {
			want := t.vacant
			if t.haveSpecial[j] {
				used++
				if j == graveSpecial {
					want = t.grave
				}
			}
			if k := t.slots.At(t.slotCount + j).key; k != want {
				panic(errors.AssertionFailedf("invariant failed: special(%d): found %v, expected %v\n%s",
					j, k, want, t.debugString()))
			}
		}
		if used != t.used {
			panic(errors.AssertionFailedf("invariant failed: found %d live slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}

		var zero K
		for i := t.end(); i < t.slotCount+extraSlots; i++ {
			if k := t.slots.At(i).key; k != zero {
				panic(errors.AssertionFailedf("invariant failed: terminator(%d): %v", i, k))
			}
		}
	}
}

func (t *table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slots=%d  used=%d  graves=%d  special=%v\n",
		t.slotCount, t.used, t.graves, t.haveSpecial)
	if t.slots.ptr == nil {
		return buf.String()
	}
	for i := uintptr(0); i < t.slotCount+extraSlots; i++ {
		k := t.slots.At(i).key
		switch {
		case i >= t.end():
			fmt.Fprintf(&buf, "  %4d: terminator raw=%x\n", i, t.layout.toRaw(unsafe.Pointer(&k)))
		case i >= t.slotCount:
			fmt.Fprintf(&buf, "  %4d: special=%t %v\n", i, t.haveSpecial[i-t.slotCount], k)
		case k == t.vacant:
			fmt.Fprintf(&buf, "  %4d: vacant\n", i)
		case k == t.grave:
			fmt.Fprintf(&buf, "  %4d: grave\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: %v [home=%d]\n", i, k, t.homeSlot(&k))
		}
	}
	return buf.String()
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uintptr) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*i))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uintptr) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}
