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

// option provides an interface to do work on a Map while it is being
// created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key *K, seed uintptr) uintptr
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = *(*hashFn)(noescape(unsafe.Pointer(&op.hash)))
}

// WithHash is an option to specify the hash function to use for a Map[K,V],
// replacing the hash function extracted from the Go runtime. The hash
// function must agree with the map's key equality: equal keys must hash
// identically.
func WithHash[K comparable, V any](hash func(key *K, seed uintptr) uintptr) option[K, V] {
	return hashOption[K, V]{hash}
}

type keyEqualOption[K comparable, V any] struct {
	keyEqual func(a, b K) bool
}

func (op keyEqualOption[K, V]) apply(m *Map[K, V]) {
	m.keyEqual = op.keyEqual
}

// WithKeyEqual is an option to specify the key equality function for a
// Map[K,V], replacing ==. It is used both for user keys and for the
// empty-key occupancy test, and must agree with the map's hash function:
// keyEqual(a, b) implies hash(a) == hash(b).
func WithKeyEqual[K comparable, V any](keyEqual func(a, b K) bool) option[K, V] {
	return keyEqualOption[K, V]{keyEqual}
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specifying the Allocator to use for a
// Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type growthPolicyOption[K comparable, V any] struct {
	policy GrowthPolicy
}

func (op growthPolicyOption[K, V]) apply(m *Map[K, V]) {
	m.policy = op.policy
}

// WithGrowthPolicy is an option for specifying the GrowthPolicy to use for
// a Map[K,V].
func WithGrowthPolicy[K comparable, V any](policy GrowthPolicy) option[K, V] {
	return growthPolicyOption[K, V]{policy}
}
