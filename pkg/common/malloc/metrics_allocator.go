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
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsAllocator decorates an upstream allocator with byte and object
// accounting. It backs the stats feature: sharded counters feed the
// on-demand dump and, when a registerer is given, prometheus metrics
// updated at most once a second. Accounting is observability only and
// never changes what the upstream returns.
type MetricsAllocator[U Allocator] struct {
	upstream U

	allocateBytes   ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	freeBytes       ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	allocateObjects ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	freeObjects     ShardedCounter[uint64, atomic.Uint64, *atomic.Uint64]
	peakInuse       PeakInuseTracker

	allocateBytesCounter   prometheus.Counter
	inuseBytesGauge        prometheus.Gauge
	allocateObjectsCounter prometheus.Counter
	inuseObjectsGauge      prometheus.Gauge

	updating atomic.Bool
	reported struct {
		allocateBytes   uint64
		allocateObjects uint64
	}
}

func NewMetricsAllocator[U Allocator](upstream U, registerer prometheus.Registerer) *MetricsAllocator[U] {
	m := &MetricsAllocator[U]{
		upstream: upstream,
	}
	n := runtime.GOMAXPROCS(0)
	m.allocateBytes = *NewShardedCounter[uint64, atomic.Uint64](n)
	m.freeBytes = *NewShardedCounter[uint64, atomic.Uint64](n)
	m.allocateObjects = *NewShardedCounter[uint64, atomic.Uint64](n)
	m.freeObjects = *NewShardedCounter[uint64, atomic.Uint64](n)

	if registerer != nil {
		m.allocateBytesCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malloc_allocate_bytes_total",
			Help: "total bytes allocated through the shim",
		})
		m.inuseBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malloc_inuse_bytes",
			Help: "bytes currently allocated and not yet freed",
		})
		m.allocateObjectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "malloc_allocate_objects_total",
			Help: "total allocations through the shim",
		})
		m.inuseObjectsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "malloc_inuse_objects",
			Help: "allocations currently outstanding",
		})
		registerer.MustRegister(
			m.allocateBytesCounter,
			m.inuseBytesGauge,
			m.allocateObjectsCounter,
			m.inuseObjectsGauge,
		)
	}
	return m
}

var _ Allocator = new(MetricsAllocator[Allocator])

func (m *MetricsAllocator[U]) recordAllocate(size uint64) {
	m.allocateBytes.Add(size)
	m.allocateObjects.Add(1)
	m.peakInuse.Update(m.InuseBytes())
	m.triggerUpdate()
}

func (m *MetricsAllocator[U]) recordFree(size uint64) {
	m.freeBytes.Add(size)
	m.freeObjects.Add(1)
	m.triggerUpdate()
}

func (m *MetricsAllocator[U]) Allocate(layout Layout, hints Hints) (unsafe.Pointer, error) {
	ptr, err := m.upstream.Allocate(layout, hints)
	if err != nil {
		return nil, err
	}
	// the zero-size sentinel is skipped on both sides, same as Deallocate
	if !isZeroSized(ptr) {
		m.recordAllocate(layout.Size)
	}
	return ptr, nil
}

func (m *MetricsAllocator[U]) AllocateZeroed(layout Layout) (unsafe.Pointer, error) {
	ptr, err := m.upstream.AllocateZeroed(layout)
	if err != nil {
		return nil, err
	}
	if !isZeroSized(ptr) {
		m.recordAllocate(layout.Size)
	}
	return ptr, nil
}

func (m *MetricsAllocator[U]) Deallocate(ptr unsafe.Pointer, layout Layout) {
	m.upstream.Deallocate(ptr, layout)
	if !isZeroSized(ptr) && ptr != nil {
		m.recordFree(layout.Size)
	}
}

func (m *MetricsAllocator[U]) Reallocate(ptr unsafe.Pointer, layout Layout, newSize uint64) (unsafe.Pointer, error) {
	newPtr, err := m.upstream.Reallocate(ptr, layout, newSize)
	if err != nil {
		return newPtr, err
	}
	if ptr != nil && !isZeroSized(ptr) {
		m.recordFree(layout.Size)
	}
	if !isZeroSized(newPtr) {
		m.recordAllocate(newSize)
	}
	return newPtr, nil
}

func (m *MetricsAllocator[U]) UsableSize(ptr unsafe.Pointer) uint64 {
	return m.upstream.UsableSize(ptr)
}

// InuseBytes is allocated minus freed. Freed never exceeds allocated at
// a quiescent snapshot; concurrent updates can transiently undershoot,
// so the subtraction saturates at zero.
func (m *MetricsAllocator[U]) InuseBytes() uint64 {
	allocated := m.allocateBytes.Load()
	freed := m.freeBytes.Load()
	if freed > allocated {
		return 0
	}
	return allocated - freed
}

// Stats returns a consistent-enough snapshot of the counters.
func (m *MetricsAllocator[U]) Stats() StatsSnapshot {
	peak := m.peakInuse.Load()
	return StatsSnapshot{
		AllocateBytes:   m.allocateBytes.Load(),
		FreeBytes:       m.freeBytes.Load(),
		AllocateObjects: m.allocateObjects.Load(),
		FreeObjects:     m.freeObjects.Load(),
		InuseBytes:      m.InuseBytes(),
		PeakInuseBytes:  peak.Value,
		PeakInuseTime:   peak.Time,
	}
}

// triggerUpdate pushes the counters to prometheus at most once a
// second, off the allocation path. The counters stay cumulative for
// Stats; prometheus gets deltas against the last report. The reported
// fields are only touched while the updating flag is held.
func (m *MetricsAllocator[U]) triggerUpdate() {
	if m.allocateBytesCounter == nil {
		return
	}
	if m.updating.CompareAndSwap(false, true) {
		time.AfterFunc(time.Second, func() {
			allocatedBytes := m.allocateBytes.Load()
			allocatedObjects := m.allocateObjects.Load()
			freedBytes := m.freeBytes.Load()
			freedObjects := m.freeObjects.Load()

			m.allocateBytesCounter.Add(float64(allocatedBytes - m.reported.allocateBytes))
			m.allocateObjectsCounter.Add(float64(allocatedObjects - m.reported.allocateObjects))
			m.inuseBytesGauge.Set(float64(allocatedBytes) - float64(freedBytes))
			m.inuseObjectsGauge.Set(float64(allocatedObjects) - float64(freedObjects))

			m.reported.allocateBytes = allocatedBytes
			m.reported.allocateObjects = allocatedObjects

			m.updating.Store(false)
		})
	}
}
