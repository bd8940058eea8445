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

// Package moerr defines the coded errors used across the allocator shim
// and the native build driver. Every failure the module reports carries
// one of the codes below, so callers and tests can match on the class of
// failure instead of message text.
package moerr

import (
	"errors"
	"fmt"
)

const (
	Ok uint16 = 0

	// Internal errors.
	ErrInternal     uint16 = 20101
	ErrNYI          uint16 = 20102
	ErrOOM          uint16 = 20103
	ErrNotSupported uint16 = 20105

	// Invalid input, mostly build configuration.
	ErrBadConfig    uint16 = 20300
	ErrInvalidInput uint16 = 20301

	// Unexpected state of the build environment.
	ErrToolchainMissing uint16 = 20400
	ErrFileNotFound     uint16 = 20405
)

type errorItem struct {
	code   uint16
	format string
}

var errorItems = map[uint16]errorItem{
	Ok:                  {Ok, "ok"},
	ErrInternal:         {ErrInternal, "internal error: %s"},
	ErrNYI:              {ErrNYI, "%s is not yet implemented"},
	ErrOOM:              {ErrOOM, "out of memory"},
	ErrNotSupported:     {ErrNotSupported, "not supported: %s"},
	ErrBadConfig:        {ErrBadConfig, "invalid configuration: %s"},
	ErrInvalidInput:     {ErrInvalidInput, "invalid input: %s"},
	ErrToolchainMissing: {ErrToolchainMissing, "toolchain missing: %s"},
	ErrFileNotFound:     {ErrFileNotFound, "file %s is not found"},
}

// Error is the coded error type of this module.
type Error struct {
	code    uint16
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func newError(code uint16, args ...any) *Error {
	item, has := errorItems[code]
	if !has {
		panic(fmt.Errorf("missing error item for error code %d", code))
	}
	return &Error{
		code:    code,
		message: fmt.Sprintf(item.format, args...),
	}
}

// IsMoErrCode reports whether err is a moerr carrying the given code.
func IsMoErrCode(err error, code uint16) bool {
	if err == nil {
		return code == Ok
	}
	var me *Error
	if !errors.As(err, &me) {
		return false
	}
	return me.code == code
}

func NewInternalError(msg string, args ...any) *Error {
	return newError(ErrInternal, fmt.Sprintf(msg, args...))
}

func NewNYI(msg string, args ...any) *Error {
	return newError(ErrNYI, fmt.Sprintf(msg, args...))
}

func NewOOM() *Error {
	return newError(ErrOOM)
}

func NewNotSupported(msg string, args ...any) *Error {
	return newError(ErrNotSupported, fmt.Sprintf(msg, args...))
}

func NewBadConfig(msg string, args ...any) *Error {
	return newError(ErrBadConfig, fmt.Sprintf(msg, args...))
}

func NewInvalidInput(msg string, args ...any) *Error {
	return newError(ErrInvalidInput, fmt.Sprintf(msg, args...))
}

func NewToolchainMissing(msg string, args ...any) *Error {
	return newError(ErrToolchainMissing, fmt.Sprintf(msg, args...))
}

func NewFileNotFound(path string) *Error {
	return newError(ErrFileNotFound, path)
}
