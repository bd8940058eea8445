// Copyright 2023 The snmalloc-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package malloc

import (
	"sync"
	"unsafe"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// CheckedAllocator is the debug-feature decorator. It tracks every live
// pointer with the Layout it was requested with and panics on double
// free and on metadata mismatches before they can reach the engine,
// where they would be undefined behavior. The cost is a sharded map
// touch per operation; debug builds trade that for crashing early.
type CheckedAllocator[U Allocator] struct {
	upstream U
	shards   [numShards]checkedShard
}

type checkedShard struct {
	mu   sync.Mutex
	live map[uintptr]Layout
}

func NewCheckedAllocator[U Allocator](upstream U) *CheckedAllocator[U] {
	c := &CheckedAllocator[U]{upstream: upstream}
	for i := range c.shards {
		c.shards[i].live = make(map[uintptr]Layout)
	}
	return c
}

var _ Allocator = new(CheckedAllocator[Allocator])

func (c *CheckedAllocator[U]) shard(ptr unsafe.Pointer) *checkedShard {
	return &c.shards[(uintptr(ptr)>>4)%numShards]
}

func (c *CheckedAllocator[U]) track(ptr unsafe.Pointer, layout Layout) {
	if isZeroSized(ptr) {
		return
	}
	shard := c.shard(ptr)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, dup := shard.live[uintptr(ptr)]; dup {
		panic(moerr.NewInternalError(
			"engine returned pointer %x twice without a free in between", uintptr(ptr)))
	}
	shard.live[uintptr(ptr)] = layout
}

func (c *CheckedAllocator[U]) untrack(ptr unsafe.Pointer, layout Layout, op string) {
	if isZeroSized(ptr) {
		return
	}
	shard := c.shard(ptr)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	recorded, live := shard.live[uintptr(ptr)]
	if !live {
		panic(moerr.NewInternalError(
			"%s of pointer %x which is not a live allocation (double free?)", op, uintptr(ptr)))
	}
	if recorded != layout {
		panic(moerr.NewInternalError(
			"%s of pointer %x with layout {size %d align %d}, allocated with {size %d align %d}",
			op, uintptr(ptr), layout.Size, layout.Align, recorded.Size, recorded.Align))
	}
	delete(shard.live, uintptr(ptr))
}

func (c *CheckedAllocator[U]) Allocate(layout Layout, hints Hints) (unsafe.Pointer, error) {
	ptr, err := c.upstream.Allocate(layout, hints)
	if err != nil {
		return nil, err
	}
	c.track(ptr, layout)
	return ptr, nil
}

func (c *CheckedAllocator[U]) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	ptr, err := c.upstream.AllocateZeroed(layout)
	if err != nil {
		return nil, err
	}
	c.track(ptr, layout)
	return ptr, nil
}

func (c *CheckedAllocator[U]) Deallocate(ptr unsafe.Pointer, layout Layout) {
	if ptr == nil {
		panic(moerr.NewInternalError("deallocate of nil pointer"))
	}
	c.untrack(ptr, layout, "deallocate")
	c.upstream.Deallocate(ptr, layout)
}

func (c *CheckedAllocator[U]) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	if ptr != nil && !isZeroSized(ptr) {
		// validate before the engine consumes the old pointer, but only
		// untrack after a successful move
		shard := c.shard(ptr)
		shard.mu.Lock()
		recorded, live := shard.live[uintptr(ptr)]
		shard.mu.Unlock()
		if !live {
			panic(moerr.NewInternalError(
				"reallocate of pointer %x which is not a live allocation", uintptr(ptr)))
		}
		if recorded != layout {
			panic(moerr.NewInternalError(
				"reallocate of pointer %x with layout {size %d align %d}, allocated with {size %d align %d}",
				uintptr(ptr), layout.Size, layout.Align, recorded.Size, recorded.Align))
		}
	}
	newPtr, err := c.upstream.Reallocate(ptr, layout, newSize)
	if err != nil {
		return newPtr, err
	}
	if ptr != nil && !isZeroSized(ptr) {
		c.untrack(ptr, layout, "reallocate")
	}
	c.track(newPtr, Layout{Size: newSize, Align: layout.Align})
	return newPtr, nil
}

func (c *CheckedAllocator[U]) UsableSize(ptr unsafe.Pointer) uint64 {
	return c.upstream.UsableSize(ptr)
}

// LiveAllocations counts tracked outstanding allocations, for tests and
// leak reports.
func (c *CheckedAllocator[U]) LiveAllocations() int {
	total := 0
	for i := range c.shards {
		c.shards[i].mu.Lock()
		total += len(c.shards[i].live)
		c.shards[i].mu.Unlock()
	}
	return total
}
