// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"time"

	"go.bug.st/serial"
)

// Line framing
const (
	CommandPrefix = '>'
	ReplyPrefix   = '<'
	LineEnd       = "\r"

	// MaxLineLength bounds a single reply line. Longer input is treated
	// as a desynchronised link.
	MaxLineLength = 64
)

// Timing used by the request/response engine
const (
	DefaultReplyTimeout = 500 * time.Millisecond
	SettleDelay         = 25 * time.Millisecond
	SyncRetryDelay      = time.Second
	SyncAttempts        = 3
	BounceDelay         = 500 * time.Millisecond

	flushPollInterval = 10 * time.Millisecond
)

// Reply type codes
const (
	TypeError  = 'E' // E000 is the canonical acknowledgment
	TypeStatus = 'X' // direct command status
	TypeNode   = 'N' // node report
	TypeLevel  = 'L' // level segment of a node report
)

// AckLine is the zero-argument acknowledgment that ends a successful sync.
const AckLine = "<E000"

// Node addressing
const (
	MaxNodeID  = 232
	MaxLevel   = 255
	MaxScene   = 232
	MaxGroupID = 232
)

// Z-Wave command classes carried in structured sub-reports
const (
	ClassSensorMultilevel = 49
	ClassThermostatMode   = 64
	ClassSetpoint         = 67
	ClassDoorLock         = 98
)

// UpdateCommand asks the controller to refresh its view of the network.
const UpdateCommand = ">UP"

// Profile is a baud/parity pair the link can be switched to.
type Profile struct {
	Name     string
	BaudRate int
	Parity   serial.Parity
}

var (
	// CommandProfile is the normal ASCII command link, 9600 8N1.
	CommandProfile = Profile{Name: "command", BaudRate: 9600, Parity: serial.NoParity}

	// BootloaderProfile is used only while talking to the flash bootloader, 115200 8E1.
	BootloaderProfile = Profile{Name: "bootloader", BaudRate: 115200, Parity: serial.EvenParity}
)

var supportedBaudRates = map[int]bool{
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}
