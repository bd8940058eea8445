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

//go:build snmalloc && cgo

package malloc

import (
	"unsafe"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// Heap is a private engine arena. Allocations from different heaps are
// independent; dropping the heap while allocations are outstanding is a
// caller bug with undefined behavior at the native layer, same as a
// metadata mismatch.
type Heap struct {
	handle unsafe.Pointer
}

func NewHeap() (*Heap, error) {
	handle := abiHeapNew()
	if handle == nil {
		return nil, moerr.NewOOM()
	}
	return &Heap{handle: handle}, nil
}

// Close drops the native arena. The heap must not be used afterwards.
func (h *Heap) Close() {
	if h.handle != nil {
		abiHeapDrop(h.handle)
		h.handle = nil
	}
}

func (h *Heap) Allocate(layout Layout) (unsafe.Pointer, error) {
	if layout.Size == 0 {
		return zeroSizedPtr(), nil
	}
	ptr := abiHeapAlloc(h.handle, layout.Align, layout.Size)
	if ptr == nil {
		return nil, moerr.NewOOM()
	}
	return ptr, nil
}

func (h *Heap) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	if layout.Size == 0 {
		return zeroSizedPtr(), nil
	}
	ptr := abiHeapAllocZeroed(h.handle, layout.Align, layout.Size)
	if ptr == nil {
		return nil, moerr.NewOOM()
	}
	return ptr, nil
}

func (h *Heap) Deallocate(ptr unsafe.Pointer, layout Layout) {
	if ptr == nil || isZeroSized(ptr) {
		return
	}
	abiHeapDealloc(h.handle, ptr, layout.Align, layout.Size)
}

// Reallocate resizes ptr within the arena, preserving
// min(layout.Size, newSize) bytes. On failure the original pointer is
// returned unchanged together with the error.
func (h *Heap) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	return h.resize(ptr, layout, newSize, abiHeapGrow)
}

// ReallocateZeroed is Reallocate with any grown tail guaranteed to read
// as zero.
func (h *Heap) ReallocateZeroed(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	return h.resize(ptr, layout, newSize, abiHeapGrowZeroed)
}

func (h *Heap) resize(
	ptr unsafe.Pointer,
	layout Layout,
	newSize uint64,
	grow func(heap, ptr unsafe.Pointer, align, oldSize, newSize uint64) unsafe.Pointer,
) (unsafe.Pointer, error) {
	if newSize == 0 {
		h.Deallocate(ptr, layout)
		return zeroSizedPtr(), nil
	}
	if ptr == nil || isZeroSized(ptr) {
		return h.AllocateZeroed(Layout{Size: newSize, Align: layout.Align})
	}
	if newSize == layout.Size {
		return ptr, nil
	}
	var newPtr unsafe.Pointer
	if newSize > layout.Size {
		newPtr = grow(h.handle, ptr, layout.Align, layout.Size, newSize)
	} else {
		newPtr = abiHeapShrink(h.handle, ptr, layout.Align, layout.Size, newSize)
	}
	if newPtr == nil {
		// the arena left the original allocation untouched
		return ptr, moerr.NewOOM()
	}
	return newPtr, nil
}
