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

const (
	// Requests at or above this size go to the OS directly instead of
	// the Go heap.
	mmapThreshold = 64 << 10

	numShards = 16
)

// GoAllocator is the fallback engine for builds without the native
// artifact (no cgo, or the snmalloc build tag is off). Small requests
// come from the Go heap and are pinned in a sharded registry so the
// collector keeps them alive while foreign code holds the pointer;
// large requests are anonymous mappings. It implements the same
// contract as the native engine, including the zero-size sentinel and
// reallocation failure semantics.
type GoAllocator struct {
	shards [numShards]registryShard
}

type registryShard struct {
	mu   sync.Mutex
	live map[uintptr]goAllocation
}

type goAllocation struct {
	// pinned Go memory, nil for mapped regions
	pinned []byte
	// full OS mapping, nil for pinned regions
	mapped []byte
	// usable bytes at the aligned pointer
	usable uint64
}

func NewGoAllocator() *GoAllocator {
	g := &GoAllocator{}
	for i := range g.shards {
		g.shards[i].live = make(map[uintptr]goAllocation)
	}
	return g
}

var _ Allocator = new(GoAllocator)

func (g *GoAllocator) shard(addr uintptr) *registryShard {
	return &g.shards[(addr>>4)%numShards]
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// Allocate hands out fresh Go heap blocks or fresh anonymous mappings,
// both of which read as zero, so the default zero-fill contract holds
// and NoClear is a no-op here.
func (g *GoAllocator) Allocate(layout Layout, hints Hints) (unsafe.Pointer, error) {
	if layout.Size == 0 {
		return zeroSizedPtr(), nil
	}

	if layout.Size >= mmapThreshold && osMapSupported {
		return g.allocateMapped(layout)
	}

	// Over-allocate so any requested alignment can be carved out of a
	// Go heap block.
	raw := make([]byte, layout.Size+layout.Align-1)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	addr := alignUp(base, uintptr(layout.Align))
	usable := uint64(len(raw)) - uint64(addr-base)

	shard := g.shard(addr)
	shard.mu.Lock()
	shard.live[addr] = goAllocation{pinned: raw, usable: usable}
	shard.mu.Unlock()

	return unsafe.Pointer(addr), nil
}

func (g *GoAllocator) allocateMapped(layout Layout) (unsafe.Pointer, error) {
	length := layout.Size
	if layout.Align > osPageSize {
		length += layout.Align
	}
	mapped, err := osMap(length)
	if err != nil {
		return nil, moerr.NewOOM()
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mapped)))
	addr := alignUp(base, uintptr(layout.Align))
	usable := uint64(len(mapped)) - uint64(addr-base)

	shard := g.shard(addr)
	shard.mu.Lock()
	shard.live[addr] = goAllocation{mapped: mapped, usable: usable}
	shard.mu.Unlock()

	return unsafe.Pointer(addr), nil
}

// AllocateZeroed relies on both backing stores handing out zeroed
// memory: fresh Go heap blocks and anonymous mappings read as zero.
func (g *GoAllocator) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	return g.Allocate(layout, 0)
}

func (g *GoAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	if ptr == nil || isZeroSized(ptr) {
		return
	}
	addr := uintptr(ptr)
	shard := g.shard(addr)
	shard.mu.Lock()
	alloc, ok := shard.live[addr]
	delete(shard.live, addr)
	shard.mu.Unlock()
	if !ok {
		panic(moerr.NewInternalError("deallocate of unknown pointer %x", addr))
	}
	if alloc.mapped != nil {
		osUnmap(alloc.mapped)
	}
}

func (g *GoAllocator) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	if newSize == 0 {
		g.Deallocate(ptr, layout)
		return zeroSizedPtr(), nil
	}
	newPtr, err := g.Allocate(Layout{Size: newSize, Align: layout.Align}, NoClear)
	if err != nil {
		// the original allocation stays valid and owned by the caller
		return ptr, err
	}
	if !isZeroSized(ptr) {
		copy(Bytes(newPtr, newSize), Bytes(ptr, min(layout.Size, newSize)))
	}
	g.Deallocate(ptr, layout)
	return newPtr, nil
}

func (g *GoAllocator) UsableSize(ptr unsafe.Pointer) uint64 {
	if ptr == nil || isZeroSized(ptr) {
		return 0
	}
	addr := uintptr(ptr)
	shard := g.shard(addr)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.live[addr].usable
}
