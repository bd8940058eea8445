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

// Package buildcfg resolves the named build options of the snmalloc
// native engine into an immutable FeatureSet, and drives the native
// build that consumes it. Resolution happens exactly once, before the
// engine is built; nothing here is reconfigurable at run time.
package buildcfg

import (
	"math/bits"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// Strategy selects how the native engine artifact is produced. The zero
// value is invalid on purpose: a FeatureSet that never went through
// Resolve must not reach the build driver.
type Strategy int

const (
	StrategyInvalid Strategy = iota
	// StrategyCMake drives the engine's own CMake build.
	StrategyCMake
	// StrategyCC compiles the override shim sources directly with the
	// C++ compiler, for environments where CMake is undesired.
	StrategyCC
)

func (s Strategy) String() string {
	switch s {
	case StrategyCMake:
		return "cmake"
	case StrategyCC:
		return "cc"
	}
	return "invalid"
}

func (s Strategy) MarshalText() ([]byte, error) {
	if s == StrategyInvalid {
		return nil, moerr.NewBadConfig("no build strategy selected")
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "cmake":
		*s = StrategyCMake
	case "cc":
		*s = StrategyCC
	default:
		return moerr.NewBadConfig("unknown build strategy %q", string(text))
	}
	return nil
}

// ChunkSize selects the engine's largest internal slab granularity.
type ChunkSize uint64

const (
	Chunk1MiB  ChunkSize = 1 << 20
	Chunk16MiB ChunkSize = 16 << 20
)

// DefaultMinNaturalAlign is the natural minimum alignment of the engine's
// unaligned entry points, per the engine's documentation. Requests
// aligned at or below it take the fast path.
const DefaultMinNaturalAlign = 16

// FeatureSet is the frozen result of resolving the named build options.
// It parameterizes both the native build and the shim's conditional
// behavior. Immutable for the process lifetime.
type FeatureSet struct {
	Strategy         Strategy  `toml:"strategy"`
	ChunkSize        ChunkSize `toml:"chunk-size"`
	CXXStandard      int       `toml:"cxx-standard"`
	Debug            bool      `toml:"debug"`
	Stats            bool      `toml:"stats"`
	NativeCPU        bool      `toml:"native-cpu"`
	LTO              bool      `toml:"lto"`
	LocalDynamicTLS  bool      `toml:"local-dynamic-tls"`
	NoTLS            bool      `toml:"notls"`
	CacheFriendly    bool      `toml:"cache-friendly"`
	WaitOnAddress    bool      `toml:"wait-on-address"`
	Win8Compat       bool      `toml:"win8compat"`
	QEMU             bool      `toml:"qemu"`
	AndroidLLD       bool      `toml:"android-lld"`
	AndroidSharedSTL bool      `toml:"android-shared-stl"`
	MinNaturalAlign  uint64    `toml:"min-natural-align"`
}

// The closed option table. Each option either belongs to an exclusive
// group or toggles a single FeatureSet field.
const (
	Opt1MiB             = "1mib"
	Opt16MiB            = "16mib"
	OptBuildCMake       = "build_cmake"
	OptBuildCC          = "build_cc"
	OptUseCXX17         = "usecxx17"
	OptUseCXX20         = "usecxx20"
	OptNativeCPU        = "native-cpu"
	OptLocalDynamicTLS  = "local_dynamic_tls"
	OptNoTLS            = "notls"
	OptLTO              = "lto"
	OptDebug            = "debug"
	OptStats            = "stats"
	OptCacheFriendly    = "cache-friendly"
	OptWaitOnAddress    = "usewait-on-address"
	OptWin8Compat       = "win8compat"
	OptQEMU             = "qemu"
	OptAndroidLLD       = "android-lld"
	OptAndroidSharedSTL = "android-shared-stl"
)

type optionSpec struct {
	// exclusive options sharing a group conflict with each other
	group string
	apply func(*FeatureSet)
}

var optionTable = map[string]optionSpec{
	Opt1MiB:  {group: "chunk-size", apply: func(f *FeatureSet) { f.ChunkSize = Chunk1MiB }},
	Opt16MiB: {group: "chunk-size", apply: func(f *FeatureSet) { f.ChunkSize = Chunk16MiB }},

	OptBuildCMake: {group: "build-strategy", apply: func(f *FeatureSet) { f.Strategy = StrategyCMake }},
	OptBuildCC:    {group: "build-strategy", apply: func(f *FeatureSet) { f.Strategy = StrategyCC }},

	OptUseCXX17: {group: "cxx-standard", apply: func(f *FeatureSet) { f.CXXStandard = 17 }},
	OptUseCXX20: {group: "cxx-standard", apply: func(f *FeatureSet) { f.CXXStandard = 20 }},

	OptLocalDynamicTLS: {group: "tls-model", apply: func(f *FeatureSet) { f.LocalDynamicTLS = true }},
	OptNoTLS:           {group: "tls-model", apply: func(f *FeatureSet) { f.NoTLS = true }},

	OptNativeCPU:        {apply: func(f *FeatureSet) { f.NativeCPU = true }},
	OptLTO:              {apply: func(f *FeatureSet) { f.LTO = true }},
	OptDebug:            {apply: func(f *FeatureSet) { f.Debug = true }},
	OptStats:            {apply: func(f *FeatureSet) { f.Stats = true }},
	OptCacheFriendly:    {apply: func(f *FeatureSet) { f.CacheFriendly = true }},
	OptWaitOnAddress:    {apply: func(f *FeatureSet) { f.WaitOnAddress = true }},
	OptWin8Compat:       {apply: func(f *FeatureSet) { f.Win8Compat = true }},
	OptQEMU:             {apply: func(f *FeatureSet) { f.QEMU = true }},
	OptAndroidLLD:       {apply: func(f *FeatureSet) { f.AndroidLLD = true }},
	OptAndroidSharedSTL: {apply: func(f *FeatureSet) { f.AndroidSharedSTL = true }},
}

// Options returns the names of the closed option table, sorted.
func Options() []string {
	names := make([]string, 0, len(optionTable))
	for name := range optionTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a set of named options to a FeatureSet. Unknown options
// and conflicting members of an exclusive group are configuration
// errors; the returned diagnostics name the offending options.
func Resolve(names []string) (FeatureSet, error) {
	fs := FeatureSet{
		Strategy:        StrategyCMake,
		ChunkSize:       Chunk1MiB,
		CXXStandard:     17,
		MinNaturalAlign: DefaultMinNaturalAlign,
	}
	chosen := make(map[string]string) // exclusive group -> option name
	for _, name := range names {
		spec, has := optionTable[name]
		if !has {
			return FeatureSet{}, moerr.NewBadConfig("unknown build option %q", name)
		}
		if spec.group != "" {
			if prev, dup := chosen[spec.group]; dup && prev != name {
				return FeatureSet{}, moerr.NewBadConfig(
					"conflicting build options: %s, %s", prev, name)
			}
			chosen[spec.group] = name
		}
		spec.apply(&fs)
	}
	if err := fs.Validate(); err != nil {
		return FeatureSet{}, err
	}
	return fs, nil
}

// Validate checks the FeatureSet invariants. A FeatureSet built by hand
// rather than by Resolve goes through the same checks before the driver
// will touch it.
func (f FeatureSet) Validate() error {
	switch f.Strategy {
	case StrategyCMake, StrategyCC:
	default:
		return moerr.NewBadConfig(
			"no build strategy selected, want one of: %s, %s", OptBuildCMake, OptBuildCC)
	}
	switch f.ChunkSize {
	case Chunk1MiB, Chunk16MiB:
	default:
		return moerr.NewBadConfig("unsupported chunk size %d", f.ChunkSize)
	}
	switch f.CXXStandard {
	case 17, 20:
	default:
		return moerr.NewBadConfig("unsupported C++ standard %d", f.CXXStandard)
	}
	if f.MinNaturalAlign == 0 || bits.OnesCount64(f.MinNaturalAlign) != 1 {
		return moerr.NewBadConfig(
			"natural alignment %d is not a power of two", f.MinNaturalAlign)
	}
	if f.LocalDynamicTLS && f.NoTLS {
		return moerr.NewBadConfig(
			"conflicting build options: %s, %s", OptLocalDynamicTLS, OptNoTLS)
	}
	return nil
}

// TargetLib is the name of the static library the build produces. Debug
// checks select the checked variant of the engine shim.
func (f FeatureSet) TargetLib() string {
	if f.Debug {
		return "snmallocshim-checks-rust"
	}
	return "snmallocshim-rust"
}

// LockFileName is the feature lock written next to the build artifact.
// The shim reads it at startup to align its conditional behavior with
// what the engine was actually built with.
const LockFileName = "features.lock.toml"

// WriteLock stores the resolved FeatureSet in dir.
func (f FeatureSet) WriteLock(dir string) error {
	w, err := os.Create(filepath.Join(dir, LockFileName))
	if err != nil {
		return moerr.NewInternalError("cannot write feature lock: %v", err)
	}
	defer w.Close()
	return toml.NewEncoder(w).Encode(f)
}

// ReadLock loads a FeatureSet previously stored by WriteLock.
func ReadLock(dir string) (FeatureSet, error) {
	var fs FeatureSet
	path := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(path); err != nil {
		return FeatureSet{}, moerr.NewFileNotFound(path)
	}
	if _, err := toml.DecodeFile(path, &fs); err != nil {
		return FeatureSet{}, moerr.NewBadConfig("malformed feature lock %s: %v", path, err)
	}
	if err := fs.Validate(); err != nil {
		return FeatureSet{}, err
	}
	return fs, nil
}
