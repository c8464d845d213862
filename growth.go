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

import (
	"fmt"
	"math/bits"
)

// GrowthPolicy controls how a Map maps hash values to slot indices and how
// requested capacities are rounded to representable ones. Implementations
// must be stateless: a policy may be shared by any number of maps.
type GrowthPolicy interface {
	// ComputeIndex maps a hash value to an index in [0, capacity).
	ComputeIndex(hash, capacity uintptr) uintptr

	// ComputeClosestCapacity returns the smallest representable capacity
	// that is >= minCapacity. It panics if minCapacity exceeds the largest
	// representable capacity; silently truncating would corrupt the table.
	ComputeClosestCapacity(minCapacity uintptr) uintptr

	// MinimumCapacity returns the floor below which a table never shrinks.
	MinimumCapacity() uintptr
}

// PowerOfTwoGrowthPolicy is the default growth policy. Capacities are
// powers of two, which turns ComputeIndex into a single bitwise AND
// instead of a division. That matters because it runs on every probe step.
type PowerOfTwoGrowthPolicy struct{}

func (PowerOfTwoGrowthPolicy) ComputeIndex(hash, capacity uintptr) uintptr {
	return hash & (capacity - 1)
}

func (PowerOfTwoGrowthPolicy) ComputeClosestCapacity(minCapacity uintptr) uintptr {
	const highestCapacity = uintptr(1) << (bits.UintSize - 1)
	if minCapacity > highestCapacity {
		panic(fmt.Sprintf("hashmap: requested capacity %d exceeds the maximum of %d",
			minCapacity, highestCapacity))
	}
	if minCapacity <= 1 {
		return 1
	}
	return uintptr(1) << bits.Len(uint(minCapacity-1))
}

func (PowerOfTwoGrowthPolicy) MinimumCapacity() uintptr {
	return 8
}
