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

package moerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	require.Equal(t, ErrOOM, NewOOM().ErrorCode())
	require.Equal(t, ErrBadConfig, NewBadConfig("x").ErrorCode())
	require.Equal(t, ErrToolchainMissing, NewToolchainMissing("x").ErrorCode())
	require.Equal(t, ErrFileNotFound, NewFileNotFound("x").ErrorCode())
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "out of memory", NewOOM().Error())
	require.Equal(t, "invalid configuration: broken knob", NewBadConfig("broken %s", "knob").Error())
	require.Equal(t, "file /tmp/x is not found", NewFileNotFound("/tmp/x").Error())
	require.Equal(t, "internal error: code 7", NewInternalError("code %d", 7).Error())
}

func TestIsMoErrCode(t *testing.T) {
	require.True(t, IsMoErrCode(nil, Ok))
	require.False(t, IsMoErrCode(nil, ErrOOM))
	require.True(t, IsMoErrCode(NewOOM(), ErrOOM))
	require.False(t, IsMoErrCode(NewOOM(), ErrInternal))
	require.False(t, IsMoErrCode(fmt.Errorf("plain"), ErrInternal))

	// matches through wrapping
	wrapped := fmt.Errorf("while building: %w", NewToolchainMissing("cc gone"))
	require.True(t, IsMoErrCode(wrapped, ErrToolchainMissing))
}
