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

// This file is the ABI surface of the native engine: declarations only,
// no logic. The symbols come from the engine shim library produced by
// the build driver (see pkg/buildcfg); the sn_ prefixed libc-style
// entries are the unaligned fast path, the sn_rust_ entries carry
// explicit alignment and size metadata.
//
// The library location defaults to .snmalloc-build at the repository
// root; override with CGO_LDFLAGS when the driver was pointed elsewhere.

/*
#cgo CPPFLAGS: -D_REENTRANT
#cgo LDFLAGS: -L${SRCDIR}/../../../.snmalloc-build
#cgo linux LDFLAGS: -lstdc++ -latomic -lpthread
#cgo darwin LDFLAGS: -lc++ -lpthread

#include <stddef.h>

extern void* sn_malloc(size_t size);
extern void* sn_calloc(size_t count, size_t size);
extern void* sn_realloc(void* ptr, size_t size);
extern void  sn_free(void* ptr);
extern size_t sn_malloc_usable_size(void* ptr);

extern void* sn_rust_alloc(size_t alignment, size_t size);
extern void* sn_rust_alloc_zeroed(size_t alignment, size_t size);
extern void  sn_rust_dealloc(void* ptr, size_t alignment, size_t size);
extern void* sn_rust_realloc(void* ptr, size_t alignment, size_t old_size, size_t new_size);

extern void* sn_rust_allocator_new();
extern void  sn_rust_allocator_drop(void* alloc);
extern void* sn_rust_allocator_allocate(void* alloc, size_t alignment, size_t size);
extern void* sn_rust_allocator_allocate_zeroed(void* alloc, size_t alignment, size_t size);
extern void  sn_rust_allocator_deallocate(void* alloc, void* ptr, size_t alignment, size_t size);
extern void* sn_rust_allocator_grow(void* alloc, void* ptr, size_t old_alignment, size_t old_size, size_t new_alignment, size_t new_size);
extern void* sn_rust_allocator_grow_zeroed(void* alloc, void* ptr, size_t old_alignment, size_t old_size, size_t new_alignment, size_t new_size);
extern void* sn_rust_allocator_shrink(void* alloc, void* ptr, size_t old_alignment, size_t old_size, size_t new_alignment, size_t new_size);
*/
import "C"
import "unsafe"

func abiMalloc(size uint64) unsafe.Pointer {
	return C.sn_malloc(C.size_t(size))
}

func abiCalloc(size uint64) unsafe.Pointer {
	return C.sn_calloc(1, C.size_t(size))
}

func abiRealloc(ptr unsafe.Pointer, size uint64) unsafe.Pointer {
	return C.sn_realloc(ptr, C.size_t(size))
}

func abiFree(ptr unsafe.Pointer) {
	C.sn_free(ptr)
}

func abiUsableSize(ptr unsafe.Pointer) uint64 {
	return uint64(C.sn_malloc_usable_size(ptr))
}

func abiAlignedAlloc(align, size uint64) unsafe.Pointer {
	return C.sn_rust_alloc(C.size_t(align), C.size_t(size))
}

func abiAlignedAllocZeroed(align, size uint64) unsafe.Pointer {
	return C.sn_rust_alloc_zeroed(C.size_t(align), C.size_t(size))
}

func abiAlignedDealloc(ptr unsafe.Pointer, align, size uint64) {
	C.sn_rust_dealloc(ptr, C.size_t(align), C.size_t(size))
}

func abiAlignedRealloc(ptr unsafe.Pointer, align, oldSize, newSize uint64) unsafe.Pointer {
	return C.sn_rust_realloc(ptr, C.size_t(align), C.size_t(oldSize), C.size_t(newSize))
}

func abiHeapNew() unsafe.Pointer {
	return C.sn_rust_allocator_new()
}

func abiHeapDrop(heap unsafe.Pointer) {
	C.sn_rust_allocator_drop(heap)
}

func abiHeapAlloc(heap unsafe.Pointer, align, size uint64) unsafe.Pointer {
	return C.sn_rust_allocator_allocate(heap, C.size_t(align), C.size_t(size))
}

func abiHeapAllocZeroed(heap unsafe.Pointer, align, size uint64) unsafe.Pointer {
	return C.sn_rust_allocator_allocate_zeroed(heap, C.size_t(align), C.size_t(size))
}

func abiHeapDealloc(heap, ptr unsafe.Pointer, align, size uint64) {
	C.sn_rust_allocator_deallocate(heap, ptr, C.size_t(align), C.size_t(size))
}

func abiHeapGrow(heap, ptr unsafe.Pointer, align, oldSize, newSize uint64) unsafe.Pointer {
	return C.sn_rust_allocator_grow(heap, ptr,
		C.size_t(align), C.size_t(oldSize), C.size_t(align), C.size_t(newSize))
}

func abiHeapGrowZeroed(heap, ptr unsafe.Pointer, align, oldSize, newSize uint64) unsafe.Pointer {
	return C.sn_rust_allocator_grow_zeroed(heap, ptr,
		C.size_t(align), C.size_t(oldSize), C.size_t(align), C.size_t(newSize))
}

func abiHeapShrink(heap, ptr unsafe.Pointer, align, oldSize, newSize uint64) unsafe.Pointer {
	return C.sn_rust_allocator_shrink(heap, ptr,
		C.size_t(align), C.size_t(oldSize), C.size_t(align), C.size_t(newSize))
}
