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

//go:build !unix

package malloc

import (
	"github.com/snmalloc-go/snmalloc/pkg/common/moerr"
)

// Without anonymous mappings every request is served from the pinned Go
// heap path.
const (
	osMapSupported = false
	osPageSize     = 4096
)

func osMap(length uint64) ([]byte, error) {
	return nil, moerr.NewNotSupported("anonymous mappings on this platform")
}

func osUnmap(mapped []byte) {
}
