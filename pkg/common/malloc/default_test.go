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
	"testing"

	"github.com/snmalloc-go/snmalloc/pkg/buildcfg"
	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
	"github.com/stretchr/testify/require"
)

func TestInstallRejectsInvalidConfig(t *testing.T) {
	_, err := Install(Config{})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
}

func TestInstallIsSingleShot(t *testing.T) {
	features, err := buildcfg.Resolve(nil)
	require.NoError(t, err)

	first := Default()
	require.NotNil(t, first)

	got, err := Install(Config{Features: features})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
	require.Equal(t, first, got)
	require.Equal(t, first, Default())
}

func TestDefaultConfigFromLock(t *testing.T) {
	dir := t.TempDir()
	features, err := buildcfg.Resolve([]string{buildcfg.Opt16MiB, buildcfg.OptStats})
	require.NoError(t, err)
	require.NoError(t, features.WriteLock(dir))

	t.Setenv(ArtifactDirEnv, dir)
	cfg := DefaultConfig()
	require.Equal(t, features, cfg.Features)
}

func TestDefaultConfigWithoutLock(t *testing.T) {
	t.Setenv(ArtifactDirEnv, t.TempDir())
	cfg := DefaultConfig()
	require.NoError(t, cfg.Features.Validate())
	require.Equal(t, buildcfg.StrategyCMake, cfg.Features.Strategy)
}

func TestPackageHelpers(t *testing.T) {
	ptr := Alloc(128)
	require.NotNil(t, ptr)
	for i, b := range Bytes(ptr, 128) {
		require.Zero(t, b, "byte %d", i)
	}
	require.GreaterOrEqual(t, UsableSize(ptr), uint64(128))

	Bytes(ptr, 128)[0] = 0x11
	Bytes(ptr, 128)[127] = 0x22

	ptr = Realloc(ptr, 128, 512)
	require.Equal(t, byte(0x11), Bytes(ptr, 512)[0])
	require.Equal(t, byte(0x22), Bytes(ptr, 512)[127])
	Free(ptr, 512)

	layout := LayoutOf(256, 64)
	ptr = AllocLayout(layout)
	require.Zero(t, uintptr(ptr)%64)
	FreeLayout(ptr, layout)
}

func TestStatsRequiresStatsFeature(t *testing.T) {
	// the default install keeps stats off
	Default()
	_, err := Stats()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))
	require.Error(t, DumpStats(nil))
}
