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

// Package malloc is the allocator shim over the snmalloc native engine.
//
// All allocator state lives inside the engine; the shim only translates
// requests, normalizes alignment and zero-size handling, and turns a
// nil result into an error. Memory returned here is invisible to the Go
// garbage collector and must be released with the exact Layout it was
// requested with.
package malloc

import (
	"math/bits"
	"unsafe"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// MaxAlign is the largest request alignment the shim accepts.
const MaxAlign = 1 << 16

// Layout describes an allocation request: a size in bytes and a
// power-of-two alignment. The same Layout must accompany the pointer to
// Deallocate and Reallocate; the engine relies on it for size-class
// bookkeeping and a mismatch is undefined behavior at the native layer.
type Layout struct {
	Size  uint64
	Align uint64
}

// MakeLayout validates and builds a Layout. Size zero is a valid
// request; alignment must be a power of two no larger than MaxAlign.
func MakeLayout(size, align uint64) (Layout, error) {
	if align == 0 || bits.OnesCount64(align) != 1 {
		return Layout{}, moerr.NewInvalidInput("alignment %d is not a power of two", align)
	}
	if align > MaxAlign {
		return Layout{}, moerr.NewInvalidInput("alignment %d exceeds the maximum %d", align, MaxAlign)
	}
	return Layout{Size: size, Align: align}, nil
}

// LayoutOf is MakeLayout for callers with statically correct arguments.
// It panics on invalid alignment.
func LayoutOf(size, align uint64) Layout {
	layout, err := MakeLayout(size, align)
	if err != nil {
		panic(err)
	}
	return layout
}

// Hints adjust a single allocation without changing its ownership
// contract.
type Hints uint32

const (
	// NoClear skips the zero-fill Allocate applies by default, for
	// callers that overwrite the whole region anyway.
	NoClear Hints = 1 << iota
)

// Allocator is the uniform allocate/deallocate/reallocate contract the
// rest of the process programs against. Implementations must be safe
// for arbitrary interleaving from multiple goroutines; the shim itself
// holds no mutable state and forwards every call independently.
type Allocator interface {
	// Allocate returns a pointer to layout.Size bytes aligned to
	// layout.Align, or an error when the engine cannot satisfy the
	// request. The region reads as zero unless the NoClear hint is
	// set. Zero-size requests succeed and return the shared zero-size
	// sentinel.
	Allocate(layout Layout, hints Hints) (unsafe.Pointer, error)

	// AllocateZeroed is Allocate with every byte of the region
	// guaranteed to read as zero.
	AllocateZeroed(layout Layout) (unsafe.Pointer, error)

	// Deallocate releases ptr. layout must be exactly the Layout the
	// pointer was allocated with.
	Deallocate(ptr unsafe.Pointer, layout Layout)

	// Reallocate resizes ptr to newSize, preserving min(layout.Size,
	// newSize) bytes. On success the old pointer is invalid. On failure
	// the old pointer is returned unchanged together with the error and
	// remains owned by the caller.
	Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error)

	// UsableSize reports the size actually backing ptr, at least the
	// requested size. Zero for the zero-size sentinel.
	UsableSize(ptr unsafe.Pointer) uint64
}

// zeroSized backs the sentinel returned for zero-size requests. The
// sentinel is a valid, dereferenceable, distinguishable non-nil pointer
// that every Deallocate implementation treats as a no-op.
var zeroSized byte

func zeroSizedPtr() unsafe.Pointer {
	return unsafe.Pointer(&zeroSized)
}

func isZeroSized(ptr unsafe.Pointer) bool {
	return ptr == unsafe.Pointer(&zeroSized)
}

// Bytes views n bytes at ptr as a slice. The slice aliases manually
// managed memory and must not outlive the allocation.
func Bytes(ptr unsafe.Pointer, n uint64) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), n)
}
