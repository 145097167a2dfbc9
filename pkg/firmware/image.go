// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Record layout, in characters of an image line.
const (
	RecordMarker = ':'

	// MinRecordLength is a record with no data: ":LLAAAATTCC".
	MinRecordLength = 11

	// MaxRecordData is the largest payload the bootloader accepts per frame.
	MaxRecordData = 16

	// MaxRecordLength is a record carrying MaxRecordData bytes.
	MaxRecordLength = MinRecordLength + 2*MaxRecordData
)

// Record types.
const (
	RecordData           byte = 0x00
	RecordEndOfFile      byte = 0x01
	RecordExtendedLinear byte = 0x04
)

// Kind selects the upload protocol for an image.
type Kind int

const (
	KindFlash Kind = iota
	KindEEPROM
)

func (k Kind) String() string {
	switch k {
	case KindFlash:
		return "flash bootloader"
	case KindEEPROM:
		return "eeprom loader"
	default:
		return "unknown"
	}
}

// Line is one image line with its 1-based position in the file.
type Line struct {
	Number int
	Text   string
}

// IsRecord reports whether the line starts with the record marker.
func (l Line) IsRecord() bool {
	return len(l.Text) > 0 && l.Text[0] == RecordMarker
}

// Image is a firmware file split into lines, with terminators removed.
type Image struct {
	Lines []Line
	Kind  Kind
}

// Records returns the lines that begin with the record marker.
func (img *Image) Records() []Line {
	var out []Line
	for _, l := range img.Lines {
		if l.IsRecord() {
			out = append(out, l)
		}
	}
	return out
}

// ParseImage reads a firmware image from path.
func ParseImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open firmware image")
	}
	defer func() { _ = f.Close() }()

	return ParseImageReader(f)
}

// ParseImageReader reads a firmware image and selects its upload protocol.
func ParseImageReader(r io.Reader) (*Image, error) {
	img := &Image{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		img.Lines = append(img.Lines, Line{Number: n, Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read firmware image")
	}

	kind, err := Select(img.Lines)
	if err != nil {
		return nil, err
	}
	img.Kind = kind
	return img, nil
}

// Select picks the upload protocol from the record type of the first record:
// data (00) means an EEPROM image, anything else a flash bootloader image.
// Bootloader images open with an extended linear address record.
func Select(lines []Line) (Kind, error) {
	for _, l := range lines {
		if !l.IsRecord() {
			continue
		}
		if len(l.Text) < 9 {
			return 0, errors.Errorf("line %d: first record too short to select a loader", l.Number)
		}
		header, err := DecodeHex(l.Text[1:9])
		if err != nil {
			return 0, errors.Wrapf(err, "line %d", l.Number)
		}
		if header[3] == RecordData {
			return KindEEPROM, nil
		}
		return KindFlash, nil
	}
	return 0, errors.New("firmware image has no records")
}

// DecodeHexByte packs two uppercase hex digits into one byte.
func DecodeHexByte(hi, lo byte) (byte, error) {
	h, ok := hexNibble(hi)
	if !ok {
		return 0, errors.Errorf("bad hex digit %q", hi)
	}
	l, ok := hexNibble(lo)
	if !ok {
		return 0, errors.Errorf("bad hex digit %q", lo)
	}
	return h<<4 | l, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeHex decodes an even-length string of uppercase hex digits.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.Errorf("odd hex length %d", len(s))
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, err := DecodeHexByte(s[2*i], s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// XORChecksum folds bytes together with XOR.
func XORChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// Record is one decoded image line.
type Record struct {
	Line    int
	Type    byte
	Address uint16
	Data    []byte
}

// ParseRecord decodes and checks one record line. Problems are reported as
// a RecordWarning so the caller can skip the record and carry on.
func ParseRecord(l Line) (Record, error) {
	text := l.Text
	switch {
	case !l.IsRecord():
		return Record{}, warn(l, "missing record marker")
	case len(text) < MinRecordLength:
		return Record{}, warn(l, "record too short (%d characters)", len(text))
	case len(text) > MaxRecordLength:
		return Record{}, warn(l, "record too long (%d characters)", len(text))
	case len(text)%2 == 0:
		return Record{}, warn(l, "odd number of hex digits")
	}

	raw, err := DecodeHex(text[1:])
	if err != nil {
		return Record{}, warn(l, "%v", err)
	}

	length := int(raw[0])
	if length != len(raw)-5 {
		return Record{}, warn(l, "length field %d does not match %d data bytes", length, len(raw)-5)
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return Record{}, warn(l, "bad record checksum")
	}

	return Record{
		Line:    l.Number,
		Type:    raw[3],
		Address: uint16(raw[1])<<8 | uint16(raw[2]),
		Data:    raw[4 : 4+length],
	}, nil
}
