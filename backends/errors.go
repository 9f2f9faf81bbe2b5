// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrNotImplemented is returned by workload factories for layer types they
// have no kernel for. Wrap it with errors.Wrapf to attach context and a
// stack trace.
var ErrNotImplemented = fmt.Errorf("not implemented")

// MemoryImportError reports an Import call with an unflagged or unsupported
// memory source, or externally supplied memory that cannot back the handle.
// The handle's storage is guaranteed untouched when this is returned.
type MemoryImportError struct {
	Source MemorySource
	Reason string
}

// Error implements the error interface.
func (e *MemoryImportError) Error() string {
	return fmt.Sprintf("memory import from source %s failed: %s", e.Source, e.Reason)
}

// UnimplementedDTypeError reports a typed copy path hitting an element type
// outside the closed supported set. It indicates a coverage gap, never a
// recoverable condition: callers must not fall back to an untyped copy.
type UnimplementedDTypeError struct {
	DType dtypes.DType
	Op    string
}

// Error implements the error interface.
func (e *UnimplementedDTypeError) Error() string {
	return fmt.Sprintf("%s: unimplemented element type %s", e.Op, e.DType)
}

// UnknownBackendError reports a backend id with no registered constructor.
type UnknownBackendError struct {
	Id BackendId
}

// Error implements the error interface.
func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("no backend registered with id %q", e.Id)
}

// IsMemoryImportError returns whether err (or any error it wraps) is a
// MemoryImportError.
func IsMemoryImportError(err error) bool {
	var target *MemoryImportError
	return errors.As(err, &target)
}

// IsUnimplementedDTypeError returns whether err (or any error it wraps) is
// an UnimplementedDTypeError.
func IsUnimplementedDTypeError(err error) bool {
	var target *UnimplementedDTypeError
	return errors.As(err, &target)
}
