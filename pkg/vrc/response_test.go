// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse_Plain(t *testing.T) {
	r, err := ParseResponse("<X123")
	require.NoError(t, err)
	assert.Equal(t, byte('X'), r.Type)
	assert.Equal(t, 123, r.Arg)
	assert.Equal(t, byte(0), r.SubType)
	assert.Equal(t, ReportNone, r.SubReport)
}

func TestParseResponse_Pair(t *testing.T) {
	r, err := ParseResponse("<N003L045")
	require.NoError(t, err)
	assert.Equal(t, byte('N'), r.Type)
	assert.Equal(t, 3, r.Arg)
	assert.Equal(t, byte('L'), r.SubType)
	assert.Equal(t, 45, r.SubArg)
}

func TestParseResponse_Temperature(t *testing.T) {
	// format 042 = 0b001_01_010: precision 1, Fahrenheit, 2 bytes
	r, err := ParseResponse("<N003:049,005,001,042,002,154")
	require.NoError(t, err)
	require.True(t, r.HasTemperature())
	assert.Equal(t, byte(':'), r.SubType)
	assert.Equal(t, ClassSensorMultilevel, r.Class)
	assert.Equal(t, 666, r.Temperature.Value)
	assert.Equal(t, 1, r.Temperature.Precision)
	assert.Equal(t, Fahrenheit, r.Temperature.Scale)
	assert.Equal(t, "66.6F", r.Temperature.String())
	assert.InDelta(t, 66.6, r.Temperature.Float(), 0.0001)
}

func TestParseResponse_Setpoint(t *testing.T) {
	// format 001: precision 0, Celsius, 1 byte
	r, err := ParseResponse("<N005:067,003,002,001,022")
	require.NoError(t, err)
	require.True(t, r.HasTemperature())
	assert.Equal(t, ClassSetpoint, r.Class)
	assert.Equal(t, "22C", r.Temperature.String())
}

func TestParseResponse_NegativeTemperature(t *testing.T) {
	// format 033: precision 1, Celsius, 1 byte; 0xF6 = -10
	r, err := ParseResponse("<N005:049,005,001,033,246")
	require.NoError(t, err)
	assert.Equal(t, -10, r.Temperature.Value)
	assert.Equal(t, "-1.0C", r.Temperature.String())
}

func TestParseResponse_ThermostatMode(t *testing.T) {
	r, err := ParseResponse("<N004:064,003,001")
	require.NoError(t, err)
	assert.Equal(t, ReportThermostatMode, r.SubReport)
	assert.Equal(t, 1, r.Mode)
	assert.Equal(t, "heat", ThermostatModeName(r.Mode))
}

func TestParseResponse_OtherSubReport(t *testing.T) {
	r, err := ParseResponse("<N004:032,003,255,")
	require.NoError(t, err)
	assert.Equal(t, ReportOther, r.SubReport)
	assert.Equal(t, []int{32, 3, 255}, r.Fields)
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing prefix", "E000"},
		{"lowercase type", "<e000"},
		{"non-digit argument", "<E0a0"},
		{"short argument", "<E00"},
		{"argument out of range", "<X999"},
		{"lowercase secondary", "<N003l045"},
		{"short secondary", "<N003L04"},
		{"bad secondary char", "<N003#045"},
		{"zero data bytes", "<N003:049,005,001,040,002"},
		{"three data bytes", "<N003:049,005,001,043,002,154,001"},
		{"too short for declared bytes", "<N003:049,005,001,042,002"},
		{"no format byte", "<N003:049,005,001"},
		{"non-digit field", "<N003:049,0x5,001"},
		{"mode report without value", "<N004:064,003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed, got %v", err)
		})
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		maxLen  int
		maxVal  int
		want    int
		wantErr bool
	}{
		{"simple", "42", 0, 0, 42, false},
		{"leading zeros", "007", 3, 0, 7, false},
		{"at max", "255", 0, 255, 255, false},
		{"above max", "256", 0, 255, 0, true},
		{"too long", "0001", 3, 0, 0, true},
		{"not a digit", "1a", 0, 0, 0, true},
		{"sign", "-1", 0, 0, 0, true},
		{"empty", "", 0, 0, 0, true},
		{"huge", "99999999999999999999", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint(tt.s, tt.maxLen, "value", tt.maxVal)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemperatureString(t *testing.T) {
	tests := []struct {
		temp Temperature
		want string
	}{
		{Temperature{Value: 666, Precision: 1, Scale: Fahrenheit}, "66.6F"},
		{Temperature{Value: 5, Precision: 1, Scale: Celsius}, "0.5C"},
		{Temperature{Value: 5, Precision: 2, Scale: Celsius}, "0.05C"},
		{Temperature{Value: 2150, Precision: 2, Scale: Celsius}, "21.50C"},
		{Temperature{Value: 21, Precision: 0, Scale: Celsius}, "21C"},
		{Temperature{Value: -105, Precision: 1, Scale: Fahrenheit}, "-10.5F"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.temp.String())
	}
}
