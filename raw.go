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
	"encoding/binary"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ErrNotRawable marks the error returned by CheckRawable (and the panic raised
// by NewSet and NewMap) for key types whose bits do not uniquely determine
// their value under ==.
var ErrNotRawable = errors.New("key type is not rawable")

// rawLayout describes how the bytes of a key are viewed as a tuple of
// unsigned words. Words cover the key in address order, widest first, so an
// 8-byte key is a single uint64 and a 3-byte key is a {uint16, uint8} pair.
type rawLayout struct {
	size   uintptr
	widths []uintptr
}

// CheckRawable reports whether K may be stored in a Set or Map. A Rawable type
// is one for which a == b holds exactly when a and b have identical bytes and
// every bit pattern may be stored: integers, uintptr, and arrays and structs
// built only from those with no padding and no blank fields. Floats are
// excluded because -0 == +0 and NaN != NaN, and bools because only 0 and 1
// are valid bools. Pointers are excluded because the sentinel bit patterns
// would be visible to the garbage collector; store addresses as uintptr and
// hash them with PointerHash instead.
func CheckRawable[K comparable]() error {
	_, err := layoutOf[K]()
	return err
}

func layoutOf[K comparable]() (rawLayout, error) {
	typ := reflect.TypeFor[K]()
	if err := checkRawable(typ); err != nil {
		return rawLayout{}, errors.Mark(errors.Wrapf(err, "%s", typ), ErrNotRawable)
	}
	if typ.Size() == 0 {
		return rawLayout{}, errors.Mark(
			errors.Newf("%s: zero-size keys have no bits to hold a sentinel", typ), ErrNotRawable)
	}
	return makeRawLayout(typ.Size()), nil
}

func checkRawable(typ reflect.Type) error {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr:
		return nil

	case reflect.Array:
		if err := checkRawable(typ.Elem()); err != nil {
			return errors.Wrapf(err, "element of %s", typ)
		}
		return nil

	case reflect.Struct:
		var offset uintptr
		for i := 0; i < typ.NumField(); i++ {
			f := typ.Field(i)
			if f.Name == "_" {
				return errors.Newf("blank field at offset %d is ignored by ==", f.Offset)
			}
			if f.Offset != offset {
				return errors.Newf("padding before field %s", f.Name)
			}
			if err := checkRawable(f.Type); err != nil {
				return errors.Wrapf(err, "field %s", f.Name)
			}
			offset += f.Type.Size()
		}
		if offset != typ.Size() {
			return errors.Newf("%d bytes of trailing padding", typ.Size()-offset)
		}
		return nil

	default:
		return errors.Newf("%s values are not compared by their bits", typ.Kind())
	}
}

func makeRawLayout(size uintptr) rawLayout {
	l := rawLayout{size: size}
	for rem := size; rem > 0; {
		w := uintptr(8)
		for w > rem {
			w >>= 1
		}
		l.widths = append(l.widths, w)
		rem -= w
	}
	return l
}

func wordMax(width uintptr) uint64 {
	return ^uint64(0) >> (64 - 8*width)
}

// toRaw copies the bytes at p into their word view. This, fromRaw and the
// hash strategies operating on key bytes are the only places where a key's
// memory is reinterpreted.
func (l rawLayout) toRaw(p unsafe.Pointer) []uint64 {
	b := unsafe.Slice((*byte)(p), l.size)
	words := make([]uint64, len(l.widths))
	for i, w := range l.widths {
		switch w {
		case 8:
			words[i] = binary.NativeEndian.Uint64(b)
		case 4:
			words[i] = uint64(binary.NativeEndian.Uint32(b))
		case 2:
			words[i] = uint64(binary.NativeEndian.Uint16(b))
		case 1:
			words[i] = uint64(b[0])
		}
		b = b[w:]
	}
	return words
}

// fromRaw writes words over the bytes at p. Words wider than their slot are
// truncated.
func (l rawLayout) fromRaw(p unsafe.Pointer, words []uint64) {
	b := unsafe.Slice((*byte)(p), l.size)
	for i, w := range l.widths {
		switch w {
		case 8:
			binary.NativeEndian.PutUint64(b, words[i])
		case 4:
			binary.NativeEndian.PutUint32(b, uint32(words[i]))
		case 2:
			binary.NativeEndian.PutUint16(b, uint16(words[i]))
		case 1:
			b[0] = uint8(words[i])
		}
		b = b[w:]
	}
}

// vacantRaw is the maximum raw value: every word at its maximum.
func (l rawLayout) vacantRaw() []uint64 {
	words := make([]uint64, len(l.widths))
	for i, w := range l.widths {
		words[i] = wordMax(w)
	}
	return words
}

// graveRaw is vacantRaw minus one in the first word.
func (l rawLayout) graveRaw() []uint64 {
	words := l.vacantRaw()
	words[0]--
	return words
}

func mustLayoutOf[K comparable]() rawLayout {
	l, err := layoutOf[K]()
	if err != nil {
		panic(err)
	}
	return l
}

// RawOf returns the word view of key. It panics if K is not Rawable.
func RawOf[K comparable](key K) []uint64 {
	return mustLayoutOf[K]().toRaw(unsafe.Pointer(&key))
}

// FromRaw builds a key from its word view. It panics if K is not Rawable or
// if len(words) does not match the word count of K.
func FromRaw[K comparable](words []uint64) K {
	l := mustLayoutOf[K]()
	if len(words) != len(l.widths) {
		panic(errors.AssertionFailedf("%T has %d raw words, got %d", *new(K), len(l.widths), len(words)))
	}
	var key K
	l.fromRaw(unsafe.Pointer(&key), words)
	return key
}

// VacantKey returns the key whose bits equal the reserved vacant pattern.
// Such a key is still a legal element; it is stored out of line.
func VacantKey[K comparable]() K {
	l := mustLayoutOf[K]()
	var key K
	l.fromRaw(unsafe.Pointer(&key), l.vacantRaw())
	return key
}

// GraveKey returns the key whose bits equal the reserved grave (tombstone)
// pattern.
func GraveKey[K comparable]() K {
	l := mustLayoutOf[K]()
	var key K
	l.fromRaw(unsafe.Pointer(&key), l.graveRaw())
	return key
}
