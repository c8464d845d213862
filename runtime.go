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

// hashFn is the signature of the per-type hash functions used by the Go
// runtime's map implementation.
type hashFn func(key unsafe.Pointer, seed uintptr) uintptr

// getRuntimeHasher extracts the hash function from the Go runtime's
// implementation of map[K]struct{} by reaching into the internals of the
// type. This might break in a future version of Go, but is likely fixable
// unless the Go runtime does something drastic.
func getRuntimeHasher[K comparable]() hashFn {
	a := any(make(map[K]struct{}))
	i := (*mapiface)(unsafe.Pointer(&a))
	return i.typ.hasher
}

//go:linkname fastrand64 runtime.fastrand64
func fastrand64() uint64

type mapiface struct {
	typ *maptype
	val unsafe.Pointer
}

// maptype mirrors the layout of runtime.maptype (abi.MapType). Only hasher
// is accessed; the preceding fields exist to place it at the right offset.
type maptype struct {
	typ    _type
	key    *_type
	elem   *_type
	bucket *_type
	hasher func(unsafe.Pointer, uintptr) uintptr
	// The remaining fields are not accessed.
	keysize    uint8
	elemsize   uint8
	bucketsize uint16
	flags      uint32
}

// _type mirrors the layout of runtime._type (abi.Type).
type _type struct {
	size       uintptr
	ptrdata    uintptr
	hash       uint32
	tflag      uint8
	align      uint8
	fieldAlign uint8
	kind       uint8
	equal      func(unsafe.Pointer, unsafe.Pointer) bool
	gcdata     *byte
	str        int32
	ptrToThis  int32
}

// noescape hides a pointer from escape analysis. noescape is the identity
// function but escape analysis doesn't think the output depends on the
// input. noescape is inlined and currently compiles down to zero
// instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
