// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
)

// hasher builds cache keys from structured content.
type hasher struct {
	h   hash.Hash64
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{h: fnv.New64a()}
}

func (h *hasher) u32(v uint32) {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	h.h.Write(h.buf[:4])
}

func (h *hasher) u64(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.h.Write(h.buf[:])
}

func (h *hasher) int(v int) {
	h.u64(uint64(int64(v)))
}

func (h *hasher) f32(v float32) {
	h.u32(math.Float32bits(v))
}

func (h *hasher) bool(v bool) {
	if v {
		h.u32(1)
	} else {
		h.u32(0)
	}
}

func (h *hasher) str(s string) {
	h.u32(uint32(len(s)))
	h.h.Write([]byte(s))
}

func (h *hasher) sum() uint64 {
	return h.h.Sum64()
}

// hashBytes hashes a byte slice.
func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}
