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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

func TestResolveDefaults(t *testing.T) {
	fs, err := Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, StrategyCMake, fs.Strategy)
	require.Equal(t, Chunk1MiB, fs.ChunkSize)
	require.Equal(t, 17, fs.CXXStandard)
	require.Equal(t, uint64(DefaultMinNaturalAlign), fs.MinNaturalAlign)
	require.False(t, fs.Debug)
	require.False(t, fs.Stats)
}

func TestResolveOptions(t *testing.T) {
	fs, err := Resolve([]string{
		Opt16MiB, OptBuildCC, OptUseCXX20, OptNativeCPU, OptLTO,
		OptDebug, OptStats, OptCacheFriendly, OptLocalDynamicTLS,
	})
	require.NoError(t, err)
	require.Equal(t, StrategyCC, fs.Strategy)
	require.Equal(t, Chunk16MiB, fs.ChunkSize)
	require.Equal(t, 20, fs.CXXStandard)
	require.True(t, fs.NativeCPU)
	require.True(t, fs.LTO)
	require.True(t, fs.Debug)
	require.True(t, fs.Stats)
	require.True(t, fs.CacheFriendly)
	require.True(t, fs.LocalDynamicTLS)
}

func TestResolveConflicts(t *testing.T) {
	cases := [][2]string{
		{Opt1MiB, Opt16MiB},
		{OptBuildCMake, OptBuildCC},
		{OptUseCXX17, OptUseCXX20},
		{OptLocalDynamicTLS, OptNoTLS},
	}
	for _, pair := range cases {
		_, err := Resolve([]string{pair[0], pair[1]})
		require.Error(t, err, "options %v must conflict", pair)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
		// the diagnostic names both offending options
		require.Contains(t, err.Error(), pair[0])
		require.Contains(t, err.Error(), pair[1])
	}
}

func TestResolveRepeatedOptionIsNotAConflict(t *testing.T) {
	fs, err := Resolve([]string{Opt16MiB, Opt16MiB})
	require.NoError(t, err)
	require.Equal(t, Chunk16MiB, fs.ChunkSize)
}

func TestResolveUnknownOption(t *testing.T) {
	_, err := Resolve([]string{"hugepages"})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
	require.Contains(t, err.Error(), "hugepages")
}

func TestValidateRejectsZeroValueStrategy(t *testing.T) {
	fs := FeatureSet{
		ChunkSize:       Chunk1MiB,
		CXXStandard:     17,
		MinNaturalAlign: DefaultMinNaturalAlign,
	}
	err := fs.Validate()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadConfig))
	require.Contains(t, err.Error(), "no build strategy selected")
}

func TestValidateRejectsBadNaturalAlign(t *testing.T) {
	fs, err := Resolve(nil)
	require.NoError(t, err)
	fs.MinNaturalAlign = 24
	require.True(t, moerr.IsMoErrCode(fs.Validate(), moerr.ErrBadConfig))
}

func TestTargetLib(t *testing.T) {
	fs, err := Resolve(nil)
	require.NoError(t, err)
	require.Equal(t, "snmallocshim-rust", fs.TargetLib())

	fs, err = Resolve([]string{OptDebug})
	require.NoError(t, err)
	require.Equal(t, "snmallocshim-checks-rust", fs.TargetLib())
}

func TestLockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := Resolve([]string{Opt16MiB, OptBuildCC, OptStats, OptUseCXX20})
	require.NoError(t, err)

	require.NoError(t, fs.WriteLock(dir))
	got, err := ReadLock(dir)
	require.NoError(t, err)
	require.Equal(t, fs, got)
}

func TestReadLockMissing(t *testing.T) {
	_, err := ReadLock(t.TempDir())
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))
}

func TestOptionsIsClosed(t *testing.T) {
	names := Options()
	require.Len(t, names, len(optionTable))
	for _, name := range names {
		_, err := Resolve([]string{name})
		require.NoError(t, err, "option %s must resolve on its own", name)
	}
}
