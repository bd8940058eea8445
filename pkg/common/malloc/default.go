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
	"os"
	"sync"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/snmalloc-go/snmalloc/pkg/buildcfg"
	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
	"github.com/snmalloc-go/snmalloc/pkg/logutil"
)

// ArtifactDirEnv points at the build driver's output directory, where
// the feature lock lives. Without it the shim falls back to the default
// feature resolution.
const ArtifactDirEnv = "SNMALLOC_GO_HOME"

// Config freezes the shim-side configuration at install time. Features
// must match what the engine artifact was built with; reading them from
// the driver's feature lock is the supported way to guarantee that.
type Config struct {
	Features buildcfg.FeatureSet

	// Registerer receives the shim metrics when the stats feature is
	// on. Nil keeps counting but skips prometheus.
	Registerer prometheus.Registerer
}

// DefaultConfig resolves the feature lock next to the engine artifact,
// or the default feature set when no lock is present.
func DefaultConfig() Config {
	if dir := os.Getenv(ArtifactDirEnv); dir != "" {
		if features, err := buildcfg.ReadLock(dir); err == nil {
			return Config{Features: features}
		}
	}
	features, err := buildcfg.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return Config{Features: features}
}

var (
	installOnce      sync.Once
	defaultAllocator Allocator
)

// Install builds the process-wide default allocator from cfg and makes
// it the target of the package-level helpers. It is the single
// registration point; only the first call takes effect and later calls
// report an error. The resulting chain is engine, then debug checking,
// then stats accounting, as the features dictate.
func Install(cfg Config) (Allocator, error) {
	if err := cfg.Features.Validate(); err != nil {
		return nil, err
	}
	first := false
	installOnce.Do(func() {
		doInstall(cfg)
		first = true
	})
	if !first {
		return defaultAllocator, moerr.NewInvalidInput("default allocator is already installed")
	}
	return defaultAllocator, nil
}

func doInstall(cfg Config) {
	allocator := newEngine(cfg.Features)
	if cfg.Features.Debug {
		allocator = NewCheckedAllocator(allocator)
	}
	if cfg.Features.Stats {
		metrics := NewMetricsAllocator(allocator, cfg.Registerer)
		statsSource.Store(metrics)
		allocator = metrics
	}
	defaultAllocator = allocator
	logutil.Info("malloc installed",
		zap.String("engine", EngineName),
		zap.Bool("debug", cfg.Features.Debug),
		zap.Bool("stats", cfg.Features.Stats),
		zap.Uint64("min natural align", cfg.Features.MinNaturalAlign),
		zap.Uint64("chunk size", uint64(cfg.Features.ChunkSize)),
	)
}

// Default returns the installed allocator, installing DefaultConfig on
// first use.
func Default() Allocator {
	installOnce.Do(func() {
		doInstall(DefaultConfig())
	})
	return defaultAllocator
}

// fatal aborts the process. A failed allocation through the default
// allocator has no general recovery; continuing without memory is worse
// than stopping.
func fatal(op string, layout Layout, err error) {
	logutil.Fatal("allocation failure",
		zap.String("op", op),
		zap.Uint64("size", layout.Size),
		zap.Uint64("align", layout.Align),
		zap.Error(err),
	)
}

// Alloc returns size bytes at the engine's natural alignment from the
// default allocator, zero-filled. It aborts the process on failure.
func Alloc(size uint64) unsafe.Pointer {
	layout := Layout{Size: size, Align: buildcfg.DefaultMinNaturalAlign}
	ptr, err := Default().AllocateZeroed(layout)
	if err != nil {
		fatal("alloc", layout, err)
	}
	return ptr
}

// AllocLayout is Alloc for explicit layouts, without the zero-fill.
func AllocLayout(layout Layout) unsafe.Pointer {
	ptr, err := Default().Allocate(layout, NoClear)
	if err != nil {
		fatal("alloc", layout, err)
	}
	return ptr
}

// Free releases memory obtained from Alloc.
func Free(ptr unsafe.Pointer, size uint64) {
	Default().Deallocate(ptr, Layout{Size: size, Align: buildcfg.DefaultMinNaturalAlign})
}

// FreeLayout releases memory obtained from AllocLayout.
func FreeLayout(ptr unsafe.Pointer, layout Layout) {
	Default().Deallocate(ptr, layout)
}

// Realloc resizes memory obtained from Alloc, aborting on failure.
func Realloc(ptr unsafe.Pointer, oldSize, newSize uint64) unsafe.Pointer {
	layout := Layout{Size: oldSize, Align: buildcfg.DefaultMinNaturalAlign}
	newPtr, err := Default().Reallocate(ptr, layout, newSize)
	if err != nil {
		fatal("realloc", layout, err)
	}
	return newPtr
}

// UsableSize reports the backing size of a default-allocator pointer.
func UsableSize(ptr unsafe.Pointer) uint64 {
	return Default().UsableSize(ptr)
}
