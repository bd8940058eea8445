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

//go:build !(snmalloc && cgo)

package malloc

import "unsafe"

// Heap without the native engine is a view over a private GoAllocator,
// so code written against the arena API keeps working in cgo-less
// builds.
type Heap struct {
	alloc *GoAllocator
}

func NewHeap() (*Heap, error) {
	return &Heap{alloc: NewGoAllocator()}, nil
}

func (h *Heap) Close() {
	h.alloc = nil
}

func (h *Heap) Allocate(layout Layout) (unsafe.Pointer, error) {
	return h.alloc.Allocate(layout, NoClear)
}

func (h *Heap) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	return h.alloc.AllocateZeroed(layout)
}

func (h *Heap) Deallocate(ptr unsafe.Pointer, layout Layout) {
	h.alloc.Deallocate(ptr, layout)
}

func (h *Heap) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	return h.alloc.Reallocate(ptr, layout, newSize)
}

func (h *Heap) ReallocateZeroed(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	newPtr, err := h.alloc.Reallocate(ptr, layout, newSize)
	if err != nil {
		return newPtr, err
	}
	if newSize > layout.Size {
		clear(Bytes(newPtr, newSize)[layout.Size:])
	}
	return newPtr, nil
}
