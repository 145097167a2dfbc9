// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Everything except ErrTimeout is fatal for a batch: the link
// can no longer be trusted once one of them has been seen.
var (
	ErrLink      = errors.New("EOF or I/O error on tty")
	ErrTimeout   = errors.New("timeout waiting for response")
	ErrOverflow  = errors.New("input overflow from controller")
	ErrMalformed = errors.New("malformed response")
	ErrConfig    = errors.New("unsupported line settings")
	ErrSync      = errors.New("can't establish communication with controller")
)

// DeviceError is a nonzero E reply. The controller uses it to say it cannot
// service the request at all, so it aborts the whole run.
type DeviceError struct {
	Type     byte
	Code     int
	Expected byte
}

func (e *DeviceError) Error() string {
	t := e.Type
	if t == 0 {
		t = TypeError
	}
	if e.Expected == 0 {
		return fmt.Sprintf("received %c%03d", t, e.Code)
	}
	return fmt.Sprintf("received %c%03d while waiting for '%c' response", t, e.Code, e.Expected)
}

// IsFatal reports whether err must end the current batch. Timeouts during
// normal command dispatch are reported per command instead.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrTimeout)
}
