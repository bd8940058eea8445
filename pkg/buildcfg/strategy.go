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

package buildcfg

import (
	"fmt"
	"runtime"
	"sort"
)

// Target describes where the artifact runs. It defaults to the host.
type Target struct {
	OS   string // GOOS names
	Arch string // GOARCH names
	// Android NDK settings, only consulted when OS is android.
	AndroidNDK      string
	AndroidPlatform string
}

func HostTarget() Target {
	return Target{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

func (t Target) isUnix() bool {
	switch t.OS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "android":
		return true
	}
	return false
}

// BuildType is the engine build profile derived from the debug feature.
func (f FeatureSet) BuildType() string {
	if f.Debug {
		return "Debug"
	}
	return "Release"
}

func (f FeatureSet) optimLevel() string {
	if f.Debug {
		return "-O0"
	}
	return "-O3"
}

// CMakeDefines derives the -D define set for the CMake strategy. The
// names are the engine's own cache variables.
func (f FeatureSet) CMakeDefines(target Target) []string {
	defines := map[string]string{
		"SNMALLOC_RUST_SUPPORT": "ON",
		"CMAKE_BUILD_TYPE":      f.BuildType(),
		"CMAKE_CXX_STANDARD":    fmt.Sprintf("%d", f.CXXStandard),
		"CMAKE_SH":              "CMAKE_SH-NOTFOUND",
		"SNMALLOC_USE_WAIT_ON_ADDRESS": map[bool]string{
			true: "1", false: "0",
		}[f.WaitOnAddress],
	}
	if f.NativeCPU {
		defines["SNMALLOC_OPTIMISE_FOR_CURRENT_MACHINE"] = "ON"
	}
	if f.QEMU {
		defines["SNMALLOC_QEMU_WORKAROUND"] = "ON"
	}
	if f.LTO {
		defines["SNMALLOC_IPO"] = "ON"
	}
	if f.NoTLS {
		defines["SNMALLOC_ENABLE_DYNAMIC_LOADING"] = "ON"
	}
	if f.Stats {
		defines["USE_SNMALLOC_STATS"] = "ON"
	}
	if f.ChunkSize == Chunk16MiB {
		defines["SNMALLOC_USE_LARGE_CHUNKS"] = "ON"
	}
	if f.CacheFriendly {
		defines["CACHE_FRIENDLY_OFFSET"] = "64"
	}
	if f.Win8Compat {
		defines["WIN8COMPAT"] = "ON"
	}
	if target.OS == "android" {
		defines["CMAKE_TOOLCHAIN_FILE"] = target.AndroidNDK + "/build/cmake/android.toolchain.cmake"
		if target.AndroidPlatform != "" {
			defines["ANDROID_PLATFORM"] = target.AndroidPlatform
		}
		if f.AndroidLLD {
			defines["ANDROID_LD"] = "lld"
		}
		if f.AndroidSharedSTL {
			defines["ANDROID_STL"] = "c++_shared"
		}
		defines["ANDROID_ABI"] = androidABI(target.Arch)
	}

	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, fmt.Sprintf("-D%s=%s", k, defines[k]))
	}
	return args
}

func androidABI(arch string) string {
	switch arch {
	case "arm64":
		return "arm64-v8a"
	case "arm":
		return "armeabi-v7a"
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	}
	return arch
}

// CompilerFlags derives the flag set for the direct-compiler strategy,
// equivalent to what the CMake build would pass.
func (f FeatureSet) CompilerFlags(target Target) []string {
	flags := []string{
		fmt.Sprintf("-std=c++%d", f.CXXStandard),
		f.optimLevel(),
		"-fomit-frame-pointer",
		"-fno-exceptions",
		"-fno-rtti",
		"-pthread",
	}
	if target.isUnix() {
		flags = append(flags, "-fPIC", "-Wno-unused-parameter")
	}
	if target.Arch == "amd64" {
		flags = append(flags, "-mcx16")
	}
	if f.NativeCPU {
		flags = append(flags, "-march=native")
	}
	if f.LTO {
		flags = append(flags, "-flto")
	}
	if target.isUnix() && target.OS != "darwin" && !f.NoTLS {
		if f.LocalDynamicTLS {
			flags = append(flags, "-ftls-model=local-dynamic")
		} else {
			flags = append(flags, "-ftls-model=initial-exec")
		}
	}
	if f.Win8Compat {
		flags = append(flags, "-DWINVER=0x0603")
	}
	return append(flags, f.defineFlags()...)
}

func (f FeatureSet) defineFlags() []string {
	var flags []string
	if f.Debug {
		flags = append(flags, "-DSNMALLOC_CHECK_CLIENT")
	}
	if f.Stats {
		flags = append(flags, "-DUSE_SNMALLOC_STATS")
	}
	if f.QEMU {
		flags = append(flags, "-DSNMALLOC_QEMU_WORKAROUND")
	}
	if f.ChunkSize == Chunk16MiB {
		flags = append(flags, "-DSNMALLOC_USE_LARGE_CHUNKS")
	}
	if f.CacheFriendly {
		flags = append(flags, "-DCACHE_FRIENDLY_OFFSET=64")
	}
	if f.WaitOnAddress {
		flags = append(flags, "-DSNMALLOC_USE_WAIT_ON_ADDRESS=1")
	} else {
		flags = append(flags, "-DSNMALLOC_USE_WAIT_ON_ADDRESS=0")
	}
	return flags
}

// LinkLibs lists the system libraries cgo has to link alongside the
// artifact on the given target.
func (f FeatureSet) LinkLibs(target Target) []string {
	switch target.OS {
	case "linux", "android":
		libs := []string{"stdc++", "atomic", "pthread"}
		if f.CXXStandard == 17 {
			libs = append(libs, "gcc")
		}
		return libs
	case "darwin", "freebsd", "openbsd":
		return []string{"c++"}
	case "windows":
		if f.Win8Compat {
			return []string{"stdc++", "winpthread"}
		}
		return []string{"stdc++", "winpthread", "mincore"}
	}
	return []string{"stdc++"}
}
