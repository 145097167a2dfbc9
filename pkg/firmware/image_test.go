// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRecord builds a checksummed record line.
func makeRecord(typ byte, addr uint16, data []byte) string {
	raw := []byte{byte(len(data)), byte(addr >> 8), byte(addr), typ}
	raw = append(raw, data...)
	var sum byte
	for _, b := range raw {
		sum += b
	}
	raw = append(raw, -sum)

	var sb strings.Builder
	sb.WriteByte(RecordMarker)
	for _, b := range raw {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func TestDecodeHexByte(t *testing.T) {
	b, err := DecodeHexByte('4', 'A')
	require.NoError(t, err)
	assert.Equal(t, byte(0x4A), b)

	_, err = DecodeHexByte('4', 'a')
	assert.Error(t, err, "lowercase digits are not accepted")

	_, err = DecodeHexByte('G', '0')
	assert.Error(t, err)
}

func TestDecodeHex(t *testing.T) {
	got, err := DecodeHex("4A00FF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x4A, 0x00, 0xFF}, got)

	_, err = DecodeHex("4A0")
	assert.Error(t, err)
}

func TestXORChecksum(t *testing.T) {
	assert.Equal(t, byte(0x08), XORChecksum([]byte{0x08, 0x00, 0x00, 0x00}))
	assert.Equal(t, byte(0x00), XORChecksum(nil))
	assert.Equal(t, byte(0x00), XORChecksum([]byte{0x5A, 0x5A}))
}

func TestMakeRecord(t *testing.T) {
	assert.Equal(t, ":020000040800F2", makeRecord(RecordExtendedLinear, 0, []byte{0x08, 0x00}))
	assert.Equal(t, ":00000001FF", makeRecord(RecordEndOfFile, 0, nil))
}

func TestParseRecord(t *testing.T) {
	line := Line{Number: 7, Text: makeRecord(RecordData, 0x1234, []byte{0xDE, 0xAD, 0xBE, 0xEF})}

	rec, err := ParseRecord(line)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Line)
	assert.Equal(t, RecordData, rec.Type)
	assert.Equal(t, uint16(0x1234), rec.Address)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, rec.Data)
}

func TestParseRecord_Warnings(t *testing.T) {
	good := makeRecord(RecordData, 0, []byte{0x01, 0x02})
	tests := []struct {
		name string
		text string
	}{
		{"no marker", "10000000"},
		{"too short", ":000000"},
		{"too long", makeRecord(RecordData, 0, make([]byte, MaxRecordData+1))},
		{"even length", good[:len(good)-1]},
		{"lowercase hex", strings.ToLower(good)},
		{"length mismatch", ":03000000010200"},
		{"bad checksum", good[:len(good)-2] + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(Line{Number: 3, Text: tt.text})
			require.Error(t, err)

			var w RecordWarning
			require.True(t, errors.As(err, &w), "expected RecordWarning, got %T", err)
			assert.Equal(t, 3, w.Line)
			assert.Contains(t, err.Error(), "line 3:")
		})
	}
}

func TestParseImageReader(t *testing.T) {
	text := strings.Join([]string{
		makeRecord(RecordData, 0, []byte{0x01}),
		"",
		"; comment",
		makeRecord(RecordEndOfFile, 0, nil),
	}, "\r\n")

	img, err := ParseImageReader(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, KindEEPROM, img.Kind)
	require.Len(t, img.Lines, 4)

	records := img.Records()
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Number)
	assert.Equal(t, 4, records[1].Number)
	assert.False(t, strings.HasSuffix(records[0].Text, "\r"))
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		want    Kind
		wantErr bool
	}{
		{"data record selects eeprom", []string{makeRecord(RecordData, 0, []byte{1})}, KindEEPROM, false},
		{"extended address selects flash", []string{makeRecord(RecordExtendedLinear, 0, []byte{8, 0}), makeRecord(RecordData, 0, []byte{1})}, KindFlash, false},
		{"end of file selects flash", []string{makeRecord(RecordEndOfFile, 0, nil)}, KindFlash, false},
		{"leading junk is ignored", []string{"", "x", makeRecord(RecordData, 0, []byte{1})}, KindEEPROM, false},
		{"bootloader image", []string{":020000040800F2", makeRecord(RecordData, 0, []byte{1})}, KindFlash, false},
		{"no records", []string{"", "hello"}, 0, true},
		{"short record", []string{":0000"}, 0, true},
		{"bad hex", []string{":ZZ000000"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lines []Line
			for i, text := range tt.lines {
				lines = append(lines, Line{Number: i + 1, Text: text})
			}
			got, err := Select(lines)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
