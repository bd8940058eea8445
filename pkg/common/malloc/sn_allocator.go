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

// SnAllocator forwards every operation to the native engine through the
// ABI surface in abi.go. It is stateless: the only field is the
// alignment threshold resolved from the engine's feature lock.
//
// Requests aligned at or below minNaturalAlign take the libc-style fast
// path; anything above goes through the metadata-carrying aligned
// entries. The same rule applies at deallocation so the entry families
// are never mixed for one pointer.
type SnAllocator struct {
	minNaturalAlign uint64
}

func NewSnAllocator(minNaturalAlign uint64) *SnAllocator {
	return &SnAllocator{minNaturalAlign: minNaturalAlign}
}

var _ Allocator = new(SnAllocator)

func (s *SnAllocator) Allocate(layout Layout, hints Hints) (unsafe.Pointer, error) {
	if hints&NoClear == 0 {
		return s.AllocateZeroed(layout)
	}
	if layout.Size == 0 {
		return zeroSizedPtr(), nil
	}
	var ptr unsafe.Pointer
	if layout.Align <= s.minNaturalAlign {
		ptr = abiMalloc(layout.Size)
	} else {
		ptr = abiAlignedAlloc(layout.Align, layout.Size)
	}
	if ptr == nil {
		return nil, moerr.NewOOM()
	}
	return ptr, nil
}

func (s *SnAllocator) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	if layout.Size == 0 {
		return zeroSizedPtr(), nil
	}
	var ptr unsafe.Pointer
	if layout.Align <= s.minNaturalAlign {
		ptr = abiCalloc(layout.Size)
	} else {
		ptr = abiAlignedAllocZeroed(layout.Align, layout.Size)
	}
	if ptr == nil {
		return nil, moerr.NewOOM()
	}
	return ptr, nil
}

func (s *SnAllocator) Deallocate(ptr unsafe.Pointer, layout Layout) {
	if ptr == nil || isZeroSized(ptr) {
		return
	}
	if layout.Align <= s.minNaturalAlign {
		abiFree(ptr)
	} else {
		abiAlignedDealloc(ptr, layout.Align, layout.Size)
	}
}

func (s *SnAllocator) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	if newSize == 0 {
		s.Deallocate(ptr, layout)
		return zeroSizedPtr(), nil
	}
	if ptr == nil || isZeroSized(ptr) {
		return s.Allocate(Layout{Size: newSize, Align: layout.Align}, NoClear)
	}
	var newPtr unsafe.Pointer
	if layout.Align <= s.minNaturalAlign {
		newPtr = abiRealloc(ptr, newSize)
	} else {
		newPtr = abiAlignedRealloc(ptr, layout.Align, layout.Size, newSize)
	}
	if newPtr == nil {
		// the engine left the original allocation untouched
		return ptr, moerr.NewOOM()
	}
	return newPtr, nil
}

func (s *SnAllocator) UsableSize(ptr unsafe.Pointer) uint64 {
	if ptr == nil || isZeroSized(ptr) {
		return 0
	}
	return abiUsableSize(ptr)
}
