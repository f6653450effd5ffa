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

// Package fasthash implements a murmur-family 64-bit hash for byte sequences.
//
// The input is consumed as 8-byte words in native byte order followed by a
// tail of up to 7 bytes. Each word is scrambled (multiply, rotate, multiply)
// and folded into a running state that is seeded with the caller's seed and
// the input length. The state is finalized with the murmur3 fmix64 avalanche
// so that both the low and the high bits of the result are well dispersed.
// Open addressing tables mask off the low bits to pick a slot and discard
// nothing, so the avalanche step is not optional.
//
// Results are stable for identical (bytes, seed) pairs within a process and
// across processes on machines with the same byte order. No compatibility
// with any external murmur implementation is promised.
package fasthash

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

const (
	c1 = 0x87c37b91114253d5
	c2 = 0x4cf5ad432745937f
	c3 = 0x52dce729

	// len*c1 for the fixed-width entry points, reduced mod 2^64.
	c1x4 = 0x1f0dee4445094f54
	c1x8 = 0x3e1bdc888a129ea8

	fmixM1 = 0xff51afd7ed558ccd
	fmixM2 = 0xc4ceb9fe1a85ec53
)

var littleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Hash returns the hash of b mixed with seed. The zero-length input is valid
// and hashes to Mix(seed).
func Hash(b []byte, seed uint64) uint64 {
	h := seed ^ (uint64(len(b)) * c1)
	for len(b) >= 8 {
		h = mixWord(h, binary.NativeEndian.Uint64(b))
		b = b[8:]
	}
	if len(b) > 0 {
		h ^= scramble(tail(b))
	}
	return Mix(h)
}

// String returns the hash of the bytes of s. It is equivalent to
// Hash([]byte(s), seed) without the copy.
func String(s string, seed uint64) uint64 {
	return Hash(unsafe.Slice(unsafe.StringData(s), len(s)), seed)
}

// Uint64 returns the hash of v. The result equals Hash of the 8-byte native
// encoding of v.
func Uint64(v, seed uint64) uint64 {
	return Mix(mixWord(seed^c1x8, v))
}

// Uint32 returns the hash of v. The result equals Hash of the 4-byte native
// encoding of v.
func Uint32(v uint32, seed uint64) uint64 {
	return Mix(seed ^ c1x4 ^ scramble(uint64(v)))
}

// Mix is the avalanche finalizer: every input bit affects every output bit
// with probability close to one half.
func Mix(h uint64) uint64 {
	h ^= h >> 33
	h *= fmixM1
	h ^= h >> 33
	h *= fmixM2
	h ^= h >> 33
	return h
}

func scramble(k uint64) uint64 {
	k *= c1
	k = bits.RotateLeft64(k, 31)
	k *= c2
	return k
}

func mixWord(h, k uint64) uint64 {
	h ^= scramble(k)
	h = bits.RotateLeft64(h, 27)
	return h*5 + c3
}

// tail packs the final 1-7 bytes into a word. The bytes are placed the way a
// native load of a zero-padded word would place them, which keeps Uint32 and
// Hash in agreement on both byte orders.
func tail(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	if littleEndian {
		return binary.LittleEndian.Uint64(buf[:])
	}
	return binary.BigEndian.Uint64(buf[:]) >> (64 - 8*uint(len(b)))
}
