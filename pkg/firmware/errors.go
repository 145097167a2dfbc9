// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnresponsive is returned when the target stops answering mid-upload.
// Only a power cycle recovers it.
var ErrUnresponsive = errors.New("target quit responding")

// RecordWarning is a problem with a single image record. The record is
// skipped and the upload continues.
type RecordWarning struct {
	Line   int
	Reason string
}

func (w RecordWarning) Error() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

func warn(l Line, format string, args ...interface{}) RecordWarning {
	return RecordWarning{Line: l.Number, Reason: fmt.Sprintf(format, args...)}
}

// FatalError aborts an upload. The target is left partially programmed.
type FatalError struct {
	Phase string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("upgrade failed during %s: %v", e.Phase, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Cause supports errors.Cause from github.com/pkg/errors.
func (e *FatalError) Cause() error {
	return e.Err
}

func fatal(phase string, err error) error {
	return &FatalError{Phase: phase, Err: err}
}
