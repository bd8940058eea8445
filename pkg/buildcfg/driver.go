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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
	"github.com/snmalloc-go/snmalloc/pkg/logutil"
)

// shimSources are the engine override sources the direct-compiler
// strategy builds; paths are relative to the engine source checkout.
var shimSources = []string{
	"src/snmalloc/override/rust.cc",
}

// Driver produces the native engine artifact from a resolved FeatureSet.
// It has build-time side effects only: the static library and the
// feature lock land in OutDir, nothing else changes.
type Driver struct {
	Features  FeatureSet
	Target    Target
	SourceDir string
	OutDir    string

	// Toolchain overrides; empty fields fall back to $CXX / cmake / ar.
	CXX   string
	CMake string
	AR    string
	Jobs  int

	logger *zap.Logger
}

// NewDriver returns a Driver for the host target with toolchain
// defaults taken from the environment.
func NewDriver(features FeatureSet, sourceDir, outDir string) *Driver {
	return &Driver{
		Features:  features,
		Target:    HostTarget(),
		SourceDir: sourceDir,
		OutDir:    outDir,
		CXX:       envTool("CXX", "c++"),
		CMake:     envTool("CMAKE", "cmake"),
		AR:        envTool("AR", "ar"),
		Jobs:      runtime.NumCPU(),
		logger:    logutil.Adjust(nil).With(zap.String("component", "build-driver")),
	}
}

func envTool(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// ArtifactPath is where the static library ends up after a successful
// build.
func (d *Driver) ArtifactPath() string {
	return filepath.Join(d.OutDir, "lib"+d.Features.TargetLib()+".a")
}

// Build validates the FeatureSet, probes the toolchain, runs the chosen
// strategy and writes the feature lock. Every failure is fatal for the
// build and not retryable; the returned error names what to fix.
func (d *Driver) Build(ctx context.Context) (string, error) {
	if err := d.Features.Validate(); err != nil {
		return "", err
	}
	if _, err := os.Stat(d.SourceDir); err != nil {
		return "", moerr.NewFileNotFound(d.SourceDir)
	}
	if err := os.MkdirAll(d.OutDir, 0o755); err != nil {
		return "", moerr.NewInternalError("cannot create output dir: %v", err)
	}
	if err := d.probeToolchain(ctx); err != nil {
		return "", err
	}

	d.logger.Info("building native engine",
		zap.String("strategy", d.Features.Strategy.String()),
		zap.String("target-lib", d.Features.TargetLib()),
		zap.String("build-type", d.Features.BuildType()),
		zap.Int("cxx-standard", d.Features.CXXStandard),
		zap.Uint64("chunk-size", uint64(d.Features.ChunkSize)),
	)

	var err error
	switch d.Features.Strategy {
	case StrategyCMake:
		err = d.buildCMake(ctx)
	case StrategyCC:
		err = d.buildCC(ctx)
	default:
		err = moerr.NewBadConfig("no build strategy selected")
	}
	if err != nil {
		return "", err
	}
	if err := d.Features.WriteLock(d.OutDir); err != nil {
		return "", err
	}
	d.logger.Info("native engine built", zap.String("artifact", d.ArtifactPath()))
	return d.ArtifactPath(), nil
}

// probeToolchain verifies the compiler exists and can see the C library
// development headers. A missing libc-dev package is a known failure
// mode on Linux distributions and gets an actionable diagnostic.
func (d *Driver) probeToolchain(ctx context.Context) error {
	if d.Features.Strategy == StrategyCMake {
		if _, err := exec.LookPath(d.CMake); err != nil {
			return moerr.NewToolchainMissing(
				"%s not found in PATH; install cmake or select the %s option", d.CMake, OptBuildCC)
		}
	}
	if _, err := exec.LookPath(d.CXX); err != nil {
		return moerr.NewToolchainMissing(
			"C++ compiler %s not found in PATH (set $CXX to override)", d.CXX)
	}

	probe := exec.CommandContext(ctx, d.CXX, "-x", "c++", "-fsyntax-only", "-")
	probe.Stdin = strings.NewReader("#include <stdlib.h>\nint main() { return 0; }\n")
	var out bytes.Buffer
	probe.Stdout = &out
	probe.Stderr = &out
	if err := probe.Run(); err != nil {
		if strings.Contains(out.String(), "stdlib.h") {
			return moerr.NewToolchainMissing(
				"C library development headers not found; install libc6-dev (Debian/Ubuntu) or glibc-devel (RHEL/Fedora)")
		}
		return moerr.NewToolchainMissing(
			"compiler %s cannot build a trivial program: %v\n%s", d.CXX, err, out.String())
	}
	return nil
}

func (d *Driver) buildCMake(ctx context.Context) error {
	buildDir := filepath.Join(d.OutDir, "cmake-build")
	configure := append([]string{
		"-S", d.SourceDir,
		"-B", buildDir,
	}, d.Features.CMakeDefines(d.Target)...)
	if err := d.runCmd(ctx, d.CMake, configure...); err != nil {
		return err
	}

	build := []string{
		"--build", buildDir,
		"--target", d.Features.TargetLib(),
		"--config", d.Features.BuildType(),
		"--parallel", fmt.Sprintf("%d", d.Jobs),
	}
	if err := d.runCmd(ctx, d.CMake, build...); err != nil {
		return err
	}

	return d.copyArtifact(buildDir)
}

// copyArtifact moves the built library out of the cmake tree to the
// stable location ArtifactPath reports. MSVC generators nest it under
// the configuration name.
func (d *Driver) copyArtifact(buildDir string) error {
	name := "lib" + d.Features.TargetLib() + ".a"
	candidates := []string{
		filepath.Join(buildDir, name),
		filepath.Join(buildDir, d.Features.BuildType(), name),
	}
	for _, src := range candidates {
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		return os.WriteFile(d.ArtifactPath(), data, 0o644)
	}
	return moerr.NewInternalError("build completed but %s was not produced", name)
}

// buildCC compiles the shim sources directly, one object per source,
// fanned out over a worker pool, then archives them.
func (d *Driver) buildCC(ctx context.Context) error {
	flags := d.Features.CompilerFlags(d.Target)
	include := filepath.Join(d.SourceDir, "src")

	pool, err := ants.NewPool(d.Jobs)
	if err != nil {
		return moerr.NewInternalError("cannot create compile pool: %v", err)
	}
	defer pool.Release()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		objects []string
		firstEC error
	)
	for _, source := range shimSources {
		source := source
		object := filepath.Join(d.OutDir, strings.TrimSuffix(filepath.Base(source), ".cc")+".o")
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			args := append([]string{"-c", "-I", include}, flags...)
			args = append(args, "-o", object, filepath.Join(d.SourceDir, source))
			err := d.runCmd(ctx, d.CXX, args...)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstEC == nil {
				firstEC = err
			}
			objects = append(objects, object)
		})
		if submitErr != nil {
			wg.Done()
			return moerr.NewInternalError("cannot submit compile job: %v", submitErr)
		}
	}
	wg.Wait()
	if firstEC != nil {
		return firstEC
	}

	return d.runCmd(ctx, d.AR, append([]string{"rcs", d.ArtifactPath()}, objects...)...)
}

func (d *Driver) runCmd(ctx context.Context, name string, args ...string) error {
	d.logger.Debug("exec", zap.String("cmd", name), zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return moerr.NewToolchainMissing("%s not found in PATH", name)
		}
		return moerr.NewInternalError(
			"%s failed: %v\n%s", name, err, tail(out.String(), 4096))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
