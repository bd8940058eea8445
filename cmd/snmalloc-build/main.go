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

// snmalloc-build produces the native engine artifact consumed by the
// cgo shim. Typical use, from the repository root:
//
//	go run ./cmd/snmalloc-build -features stats,native-cpu
//	go build -tags "snmalloc,snstats" ./...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/snmalloc-go/snmalloc/pkg/buildcfg"
	"github.com/snmalloc-go/snmalloc/pkg/logutil"
)

var (
	sourceDir = flag.String("source", "snmalloc", "path to the snmalloc source checkout")
	outDir    = flag.String("out", ".snmalloc-build", "output directory for the artifact and feature lock")
	features  = flag.String("features", "", "comma separated build options")
	cxx       = flag.String("cxx", "", "C++ compiler, defaults to $CXX then c++")
	cmake     = flag.String("cmake", "", "cmake binary, defaults to $CMAKE then cmake")
	ar        = flag.String("ar", "", "archiver for the build_cc strategy, defaults to $AR then ar")
	jobs      = flag.Int("jobs", 0, "parallel build jobs, defaults to the CPU count")
	logLevel  = flag.String("log-level", "info", "log level")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags]\n\nflags:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nbuild options:\n  %s\n",
			strings.Join(buildcfg.Options(), "\n  "))
	}
	flag.Parse()

	logutil.SetupLogger(&logutil.LogConfig{Level: *logLevel})

	var names []string
	if *features != "" {
		for _, name := range strings.Split(*features, ",") {
			names = append(names, strings.TrimSpace(name))
		}
	}
	featureSet, err := buildcfg.Resolve(names)
	if err != nil {
		logutil.Error("invalid build configuration", zap.Error(err))
		os.Exit(1)
	}

	driver := buildcfg.NewDriver(featureSet, *sourceDir, *outDir)
	if *cxx != "" {
		driver.CXX = *cxx
	}
	if *cmake != "" {
		driver.CMake = *cmake
	}
	if *ar != "" {
		driver.AR = *ar
	}
	if *jobs > 0 {
		driver.Jobs = *jobs
	}

	artifact, err := driver.Build(context.Background())
	if err != nil {
		logutil.Error("native engine build failed", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("artifact: %s\n", artifact)
	fmt.Printf("feature lock: %s\n", *outDir+string(os.PathSeparator)+buildcfg.LockFileName)
	if featureSet.Stats {
		fmt.Println(`build with: go build -tags "snmalloc,snstats" ./...`)
	} else {
		fmt.Println(`build with: go build -tags snmalloc ./...`)
	}
	if featureSet.Debug {
		fmt.Println(`add the sncheck tag to link the checked engine variant`)
	}
}
