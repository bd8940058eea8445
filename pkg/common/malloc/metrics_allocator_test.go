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
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

func TestMetricsAccounting(t *testing.T) {
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), nil)

	layout := LayoutOf(100, 8)
	ptrs := make([]unsafe.Pointer, 10)
	for i := range ptrs {
		ptr, err := allocator.Allocate(layout, NoClear)
		require.NoError(t, err)
		ptrs[i] = ptr
	}
	for _, ptr := range ptrs[:4] {
		allocator.Deallocate(ptr, layout)
	}

	stats := allocator.Stats()
	require.Equal(t, uint64(1000), stats.AllocateBytes)
	require.Equal(t, uint64(400), stats.FreeBytes)
	require.Equal(t, uint64(10), stats.AllocateObjects)
	require.Equal(t, uint64(4), stats.FreeObjects)
	require.Equal(t, uint64(600), stats.InuseBytes)
	require.GreaterOrEqual(t, stats.PeakInuseBytes, uint64(1000))
	require.False(t, stats.PeakInuseTime.IsZero())

	for _, ptr := range ptrs[4:] {
		allocator.Deallocate(ptr, layout)
	}
	require.Zero(t, allocator.InuseBytes())
}

func TestMetricsReallocate(t *testing.T) {
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), nil)

	layout := LayoutOf(100, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)

	ptr, err = allocator.Reallocate(ptr, layout, 300)
	require.NoError(t, err)

	stats := allocator.Stats()
	require.Equal(t, uint64(400), stats.AllocateBytes)
	require.Equal(t, uint64(100), stats.FreeBytes)
	require.Equal(t, uint64(300), stats.InuseBytes)

	allocator.Deallocate(ptr, LayoutOf(300, 8))
	require.Zero(t, allocator.InuseBytes())
}

func TestMetricsReallocateFailureLeavesCountersAlone(t *testing.T) {
	upstream := &oomUpstream{GoAllocator: NewGoAllocator()}
	allocator := NewMetricsAllocator[Allocator](upstream, nil)

	layout := LayoutOf(100, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)
	before := allocator.Stats()

	upstream.failing = true
	got, err := allocator.Reallocate(ptr, layout, 4096)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOOM))
	require.Equal(t, ptr, got)

	after := allocator.Stats()
	require.Equal(t, before.AllocateBytes, after.AllocateBytes)
	require.Equal(t, before.FreeBytes, after.FreeBytes)

	upstream.failing = false
	allocator.Deallocate(ptr, layout)
}

func TestMetricsPrometheusRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), registry)

	layout := LayoutOf(64, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)
	allocator.Deallocate(ptr, layout)

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "malloc_allocate_bytes_total")
	require.Contains(t, names, "malloc_inuse_bytes")
	require.Contains(t, names, "malloc_allocate_objects_total")
	require.Contains(t, names, "malloc_inuse_objects")
}

func TestMetricsZeroSizeStaysBalanced(t *testing.T) {
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), nil)

	layout := LayoutOf(0, 8)
	for i := 0; i < 3; i++ {
		ptr, err := allocator.Allocate(layout, 0)
		require.NoError(t, err)
		allocator.Deallocate(ptr, layout)
	}

	// the sentinel never shows up in the counters on either side
	stats := allocator.Stats()
	require.Equal(t, stats.AllocateObjects, stats.FreeObjects)
	require.Zero(t, stats.AllocateObjects)
	require.Zero(t, stats.AllocateBytes)
	require.Zero(t, stats.InuseBytes)

	ptr, err := allocator.Reallocate(zeroSizedPtr(), layout, 0)
	require.NoError(t, err)
	allocator.Deallocate(ptr, layout)
	stats = allocator.Stats()
	require.Equal(t, stats.AllocateObjects, stats.FreeObjects)
}

func TestMetricsConcurrent(t *testing.T) {
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), nil)

	const (
		goroutines = 32
		rounds     = 1000
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			layout := LayoutOf(128, 8)
			for i := 0; i < rounds; i++ {
				ptr, err := allocator.Allocate(layout, NoClear)
				if err != nil {
					t.Error(err)
					return
				}
				allocator.Deallocate(ptr, layout)
			}
		}()
	}
	wg.Wait()

	stats := allocator.Stats()
	require.Equal(t, uint64(goroutines*rounds*128), stats.AllocateBytes)
	require.Equal(t, stats.AllocateBytes, stats.FreeBytes)
	require.Equal(t, uint64(goroutines*rounds), stats.AllocateObjects)
	require.Zero(t, stats.InuseBytes)
	require.GreaterOrEqual(t, stats.PeakInuseBytes, uint64(128))
}

func TestStatsSnapshotWriteTo(t *testing.T) {
	allocator := NewMetricsAllocator[Allocator](NewGoAllocator(), nil)
	layout := LayoutOf(256, 8)
	ptr, err := allocator.Allocate(layout, NoClear)
	require.NoError(t, err)
	defer allocator.Deallocate(ptr, layout)

	var buf bytes.Buffer
	_, err = allocator.Stats().WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	require.True(t, strings.Contains(out, "allocated bytes:"))
	require.True(t, strings.Contains(out, "in-use bytes:"))
	require.True(t, strings.Contains(out, "peak in-use bytes:"))
}

func TestShardedCounter(t *testing.T) {
	counter := NewShardedCounter[uint64, atomic.Uint64](8)

	const (
		goroutines = 16
		rounds     = 10000
	)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				counter.Add(3)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(goroutines*rounds*3), counter.Load())

	var shards int
	counter.Each(func(*atomic.Uint64) { shards++ })
	require.Equal(t, 8, shards)
}
