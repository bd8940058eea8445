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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// oomUpstream fails every operation that needs new memory, leaving
// existing allocations alone. It simulates an exhausted engine for
// failure-path tests.
type oomUpstream struct {
	*GoAllocator
	failing bool
}

func (o *oomUpstream) Allocate(layout Layout, hints Hints) (unsafe.Pointer, error) {
	if o.failing {
		return nil, moerr.NewOOM()
	}
	return o.GoAllocator.Allocate(layout, hints)
}

func (o *oomUpstream) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	if o.failing {
		return nil, moerr.NewOOM()
	}
	return o.GoAllocator.AllocateZeroed(layout)
}

func (o *oomUpstream) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	if o.failing {
		return ptr, moerr.NewOOM()
	}
	return o.GoAllocator.Reallocate(ptr, layout, newSize)
}

func TestCheckedDoubleFreePanics(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	layout := LayoutOf(64, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)

	allocator.Deallocate(ptr, layout)
	require.Panics(t, func() {
		allocator.Deallocate(ptr, layout)
	})
}

func TestCheckedLayoutMismatchPanics(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	layout := LayoutOf(64, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)

	require.Panics(t, func() {
		allocator.Deallocate(ptr, LayoutOf(128, 8))
	})
	require.Panics(t, func() {
		allocator.Deallocate(ptr, LayoutOf(64, 16))
	})
	require.Panics(t, func() {
		_, _ = allocator.Reallocate(ptr, LayoutOf(64, 16), 128)
	})

	allocator.Deallocate(ptr, layout)
}

func TestCheckedUnknownPointerPanics(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	var local byte
	require.Panics(t, func() {
		allocator.Deallocate(unsafe.Pointer(&local), LayoutOf(1, 1))
	})
}

func TestCheckedNilDeallocatePanics(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	require.Panics(t, func() {
		allocator.Deallocate(nil, LayoutOf(1, 1))
	})
}

func TestCheckedTracksReallocate(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	layout := LayoutOf(64, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.LiveAllocations())

	newPtr, err := allocator.Reallocate(ptr, layout, 256)
	require.NoError(t, err)
	require.Equal(t, 1, allocator.LiveAllocations())

	// the old pointer is gone; only the new layout is live
	allocator.Deallocate(newPtr, LayoutOf(256, 8))
	require.Zero(t, allocator.LiveAllocations())
}

func TestCheckedReallocateFailureKeepsOriginal(t *testing.T) {
	upstream := &oomUpstream{GoAllocator: NewGoAllocator()}
	allocator := NewCheckedAllocator[Allocator](upstream)

	layout := LayoutOf(64, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)
	Bytes(ptr, 64)[0] = 0x5A

	upstream.failing = true
	got, err := allocator.Reallocate(ptr, layout, 4096)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOOM))
	require.Equal(t, ptr, got)

	// the original stays live, intact and freeable with its layout
	require.Equal(t, 1, allocator.LiveAllocations())
	require.Equal(t, byte(0x5A), Bytes(ptr, 64)[0])
	upstream.failing = false
	allocator.Deallocate(ptr, layout)
	require.Zero(t, allocator.LiveAllocations())
}

func TestCheckedZeroSize(t *testing.T) {
	allocator := NewCheckedAllocator(NewGoAllocator())
	layout := LayoutOf(0, 8)
	ptr, err := allocator.Allocate(layout, 0)
	require.NoError(t, err)
	// the sentinel is never tracked and freeing it repeatedly is fine
	require.Zero(t, allocator.LiveAllocations())
	allocator.Deallocate(ptr, layout)
	allocator.Deallocate(ptr, layout)
}
