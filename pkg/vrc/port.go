// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Port is the part of a serial port the link needs. serial.Port satisfies it.
//
// Read must return (0, nil) when the read timeout expires without data, as
// go.bug.st/serial does.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	SetReadTimeout(t time.Duration) error
}

// OpenSerial opens a serial device with the given profile in raw mode.
func OpenSerial(device string, profile Profile) (Port, error) {
	mode, err := modeFor(profile)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", device)
	}
	return port, nil
}

// modeFor builds the 8 data bit, one stop bit, no flow control mode for a
// profile. go.bug.st/serial always opens the port raw (no echo, no line
// editing, no signals).
func modeFor(profile Profile) (*serial.Mode, error) {
	if !supportedBaudRates[profile.BaudRate] {
		return nil, errors.Wrapf(ErrConfig, "baud rate %d", profile.BaudRate)
	}
	return &serial.Mode{
		BaudRate: profile.BaudRate,
		DataBits: 8,
		Parity:   profile.Parity,
		StopBits: serial.OneStopBit,
	}, nil
}

// ProfileForBaud returns the command profile at a different baud rate, for
// controllers that have been reconfigured away from 9600.
func ProfileForBaud(baud int) (Profile, error) {
	if !supportedBaudRates[baud] {
		return Profile{}, errors.Wrapf(ErrConfig, "baud rate %d", baud)
	}
	p := CommandProfile
	p.BaudRate = baud
	return p, nil
}
