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

//go:build snmalloc && cgo && snstats

package malloc

// The statistics entry point only exists in engine builds with the
// stats feature (USE_SNMALLOC_STATS); linking it unconditionally would
// fail against a release artifact, hence the snstats tag.

/*
extern void sn_print_stats();
*/
import "C"

// nativeStatsDump asks the engine to write its internal counters to the
// process diagnostic stream. Observability only.
func nativeStatsDump() bool {
	C.sn_print_stats()
	return true
}
