// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// vrctl - VRC0P Z-Wave Serial Controller Tool
//
// Sends light, lock, scene and thermostat commands through a VRC0P
// serial controller and upgrades its firmware.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/vrctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
