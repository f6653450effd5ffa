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
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/rawtable/fasthash"
	"github.com/zeebo/xxh3"
	"golang.org/x/exp/constraints"
)

// HashFunc computes the hash of *key. The low bits of the result select the
// home slot and no bits are discarded, so a HashFunc used with keys that lack
// a natural spread in their low bits must mix well.
type HashFunc[K any] func(key *K, seed uint64) uint64

// IdentityHash returns the integer value of the key, ignoring the seed. It is
// the fastest strategy for keys that are already well distributed (random
// ids, hashes) and for dense ranges, which then fill consecutive slots.
func IdentityHash[K constraints.Integer]() HashFunc[K] {
	return func(key *K, _ uint64) uint64 {
		return uint64(*key)
	}
}

// PointerHash returns the address held in the key shifted right by
// log2(alignof(T)). The low bits of addresses of T are always zero and would
// otherwise leave most slots unused.
func PointerHash[T any]() HashFunc[uintptr] {
	var t T
	shift := uint(bits.TrailingZeros64(uint64(unsafe.Alignof(t))))
	return func(key *uintptr, _ uint64) uint64 {
		return uint64(*key) >> shift
	}
}

// FastHash mixes the raw bytes of the key with fasthash. It is the default
// strategy.
func FastHash[K comparable]() HashFunc[K] {
	var k K
	switch unsafe.Sizeof(k) {
	case 8:
		return func(key *K, seed uint64) uint64 {
			return fasthash.Uint64(binary.NativeEndian.Uint64(keyBytes(key)), seed)
		}
	case 4:
		return func(key *K, seed uint64) uint64 {
			return fasthash.Uint32(binary.NativeEndian.Uint32(keyBytes(key)), seed)
		}
	default:
		return func(key *K, seed uint64) uint64 {
			return fasthash.Hash(keyBytes(key), seed)
		}
	}
}

// XXH3Hash hashes the raw bytes of the key with XXH3.
func XXH3Hash[K comparable]() HashFunc[K] {
	return func(key *K, seed uint64) uint64 {
		return xxh3.HashSeed(keyBytes(key), seed)
	}
}

// keyBytes views the memory of *key as bytes.
func keyBytes[K any](key *K) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(key)), unsafe.Sizeof(*key))
}
