// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"math"
	"strconv"
	"strings"
)

// Scale is the unit bit pair of a temperature format byte.
type Scale int

const (
	Celsius    Scale = 0
	Fahrenheit Scale = 1
)

func (s Scale) String() string {
	switch s {
	case Celsius:
		return "C"
	case Fahrenheit:
		return "F"
	default:
		return "?"
	}
}

// Temperature is a fixed-point reading: Value / 10^Precision.
type Temperature struct {
	Value     int
	Precision int
	Scale     Scale
}

// Float returns the reading as a float.
func (t Temperature) Float() float64 {
	return float64(t.Value) / math.Pow10(t.Precision)
}

// String renders the reading with exactly Precision decimals, e.g. "66.6F".
func (t Temperature) String() string {
	v := t.Value
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	digits := strconv.Itoa(v)
	if t.Precision > 0 {
		if len(digits) <= t.Precision {
			digits = strings.Repeat("0", t.Precision-len(digits)+1) + digits
		}
		cut := len(digits) - t.Precision
		digits = digits[:cut] + "." + digits[cut:]
	}
	return sign + digits + t.Scale.String()
}
