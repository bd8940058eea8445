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
	_ "unsafe"
)

type shardedCounterValue interface {
	int64 | uint64
}

type shardedCounterAtomic[T shardedCounterValue] interface {
	Add(T) T
	Load() T
}

// ShardedCounter spreads a hot counter over one atomic per P to keep
// allocation fast paths from bouncing a single cache line.
type ShardedCounter[T shardedCounterValue, A any, P interface {
	*A
	shardedCounterAtomic[T]
}] struct {
	shards []A
}

func NewShardedCounter[T shardedCounterValue, A any, P interface {
	*A
	shardedCounterAtomic[T]
}](n int) *ShardedCounter[T, A, P] {
	return &ShardedCounter[T, A, P]{
		shards: make([]A, n),
	}
}

func (s *ShardedCounter[T, A, P]) Add(v T) {
	pid := runtime_procPin()
	runtime_procUnpin()
	P(&s.shards[pid%len(s.shards)]).Add(v)
}

// Load sums all shards. The result is a snapshot, not a linearization
// point.
func (s *ShardedCounter[T, A, P]) Load() T {
	var ret T
	for i := range s.shards {
		ret += P(&s.shards[i]).Load()
	}
	return ret
}

func (s *ShardedCounter[T, A, P]) Each(fn func(P)) {
	for i := range s.shards {
		fn(P(&s.shards[i]))
	}
}

//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin() int
