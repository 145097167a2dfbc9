// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ReportKind identifies the decoder used for a structured sub-report.
type ReportKind int

const (
	ReportNone ReportKind = iota
	ReportTemperature
	ReportThermostatMode
	ReportOther
)

func (k ReportKind) String() string {
	switch k {
	case ReportNone:
		return "none"
	case ReportTemperature:
		return "temperature"
	case ReportThermostatMode:
		return "thermostat-mode"
	default:
		return "other"
	}
}

// Response is one decoded reply line, for example:
//
//	<E000
//	<X000
//	<N003L045
//	<N003:049,005,001,042,002,154
//
// The secondary segment starts at a fixed offset (5). It is either a plain
// type/argument pair or a ':' sub-report of comma separated decimal fields.
type Response struct {
	Type byte
	Arg  int

	// SubType is 0 when the line has no secondary segment and ':' for a
	// structured sub-report.
	SubType byte
	SubArg  int

	SubReport   ReportKind
	Fields      []int // raw sub-report fields
	Class       int   // command class of a sub-report
	Temperature Temperature
	Mode        int

	Raw string
}

// HasTemperature reports whether the line carried a temperature sub-report.
func (r *Response) HasTemperature() bool {
	return r.SubReport == ReportTemperature
}

// ParseResponse decodes a reply line. Any grammar violation yields an error
// wrapping ErrMalformed.
func ParseResponse(line string) (*Response, error) {
	if len(line) < 2 || line[0] != ReplyPrefix {
		return nil, malformed(line, "missing '<'")
	}
	if !isUpper(line[1]) {
		return nil, malformed(line, "bad type code")
	}
	if len(line) < 5 {
		return nil, malformed(line, "short argument")
	}

	arg, err := ParseUint(line[2:5], 3, "argument", MaxLevel)
	if err != nil {
		return nil, malformed(line, err.Error())
	}

	r := &Response{Type: line[1], Arg: arg, Raw: line}
	if len(line) == 5 {
		return r, nil
	}

	switch c := line[5]; {
	case c == ':':
		r.SubType = ':'
		if err := r.decodeSubReport(line[6:]); err != nil {
			return nil, malformed(line, err.Error())
		}
	case isUpper(c):
		if len(line) < 9 {
			return nil, malformed(line, "short secondary argument")
		}
		subArg, err := ParseUint(line[6:9], 3, "secondary argument", MaxLevel)
		if err != nil {
			return nil, malformed(line, err.Error())
		}
		r.SubType = c
		r.SubArg = subArg
	default:
		return nil, malformed(line, "bad secondary type code")
	}

	return r, nil
}

// decodeSubReport picks a decoder from the leading fields. Only the two
// temperature prefixes and the thermostat-mode prefix are understood; other
// sub-reports are kept as raw fields.
func (r *Response) decodeSubReport(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}

	fields := make([]int, 0, len(parts))
	for i, p := range parts {
		v, err := ParseUint(p, 3, "field "+strconv.Itoa(i), MaxLevel)
		if err != nil {
			return err
		}
		fields = append(fields, v)
	}
	r.Fields = fields
	if len(fields) > 0 {
		r.Class = fields[0]
	}

	switch {
	case hasPrefix(fields, ClassSensorMultilevel, 5, 1),
		hasPrefix(fields, ClassSetpoint, 3, 2):
		t, err := decodeTemperature(fields[3:])
		if err != nil {
			return err
		}
		r.SubReport = ReportTemperature
		r.Temperature = t
		r.SubArg = t.Value

	case hasPrefix(fields, ClassThermostatMode, 3):
		if len(fields) < 3 {
			return errors.New("thermostat mode report too short")
		}
		r.SubReport = ReportThermostatMode
		r.Mode = fields[2]
		r.SubArg = fields[2]

	default:
		r.SubReport = ReportOther
	}
	return nil
}

// decodeTemperature reads the format byte followed by 1 or 2 big-endian
// data bytes.
func decodeTemperature(fields []int) (Temperature, error) {
	if len(fields) < 1 {
		return Temperature{}, errors.New("temperature report has no format byte")
	}

	format := fields[0]
	size := format & 0x07
	if size == 0 || size > 2 {
		return Temperature{}, errors.Errorf("temperature report declares %d data bytes", size)
	}
	if len(fields) < 1+size {
		return Temperature{}, errors.Errorf("temperature report too short for %d data bytes", size)
	}

	raw := 0
	for _, b := range fields[1 : 1+size] {
		raw = raw<<8 | b
	}
	// Z-Wave sends two's complement values
	if raw&(1<<(8*size-1)) != 0 {
		raw -= 1 << (8 * size)
	}

	return Temperature{
		Value:     raw,
		Precision: (format >> 5) & 0x07,
		Scale:     Scale((format >> 3) & 0x03),
	}, nil
}

func hasPrefix(fields []int, prefix ...int) bool {
	if len(fields) < len(prefix) {
		return false
	}
	for i, v := range prefix {
		if fields[i] != v {
			return false
		}
	}
	return true
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func malformed(line, reason string) error {
	return errors.Wrapf(ErrMalformed, "'%s': %s", line, reason)
}
