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
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// StatsSnapshot is a point-in-time view of the shim-side accounting.
// AllocateBytes >= FreeBytes whenever allocations are outstanding.
type StatsSnapshot struct {
	AllocateBytes   uint64
	FreeBytes       uint64
	AllocateObjects uint64
	FreeObjects     uint64
	InuseBytes      uint64
	PeakInuseBytes  uint64
	PeakInuseTime   time.Time
}

// WriteTo renders the snapshot for the diagnostic stream.
func (s StatsSnapshot) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"malloc stats:\n"+
			"  allocated bytes:   %d\n"+
			"  freed bytes:       %d\n"+
			"  in-use bytes:      %d\n"+
			"  allocated objects: %d\n"+
			"  freed objects:     %d\n"+
			"  peak in-use bytes: %d (at %s)\n",
		s.AllocateBytes,
		s.FreeBytes,
		s.InuseBytes,
		s.AllocateObjects,
		s.FreeObjects,
		s.PeakInuseBytes,
		s.PeakInuseTime.Format(time.RFC3339),
	)
	return int64(n), err
}

// PeakInuseTracker keeps the high-water mark of in-use bytes with a
// copy-and-swap loop, so readers get value and timestamp together.
type PeakInuseTracker struct {
	ptr atomic.Pointer[PeakInuseValue]
}

type PeakInuseValue struct {
	Value uint64
	Time  time.Time
}

func (p *PeakInuseTracker) Update(n uint64) {
	for {
		current := p.ptr.Load()
		if current != nil && n <= current.Value {
			return
		}
		next := &PeakInuseValue{Value: n, Time: time.Now()}
		if p.ptr.CompareAndSwap(current, next) {
			return
		}
	}
}

func (p *PeakInuseTracker) Load() PeakInuseValue {
	if v := p.ptr.Load(); v != nil {
		return *v
	}
	return PeakInuseValue{}
}

// statsSource is the metrics layer of the installed default allocator,
// nil unless the stats feature is on.
var statsSource atomic.Pointer[MetricsAllocator[Allocator]]

// Stats snapshots the installed default allocator's accounting. It
// fails when the stats feature is off.
func Stats() (StatsSnapshot, error) {
	m := statsSource.Load()
	if m == nil {
		return StatsSnapshot{}, moerr.NewNotSupported("statistics; enable the stats build option")
	}
	return m.Stats(), nil
}

// DumpStats writes the shim counters to w and asks the engine for its
// own dump when the artifact carries one. On-demand observability; no
// effect on allocator state.
func DumpStats(w io.Writer) error {
	snapshot, err := Stats()
	if err != nil {
		return err
	}
	if _, err := snapshot.WriteTo(w); err != nil {
		return err
	}
	if nativeStatsDump() {
		fmt.Fprintln(w, "engine statistics written to the process diagnostic stream")
	}
	return nil
}
