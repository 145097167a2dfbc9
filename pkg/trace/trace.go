// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package trace records every byte exchanged with the controller as a CBOR
// sequence, so a session can be replayed or inspected later.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Direction of a record.
type Direction string

const (
	DirTx     Direction = "tx"
	DirRx     Direction = "rx"
	DirConfig Direction = "cfg"
)

// Record is one traced event. Offset is the time since the trace started.
type Record struct {
	Offset time.Duration `cbor:"t"`
	Dir    Direction     `cbor:"dir"`
	Data   []byte        `cbor:"data,omitempty"`
	Baud   int           `cbor:"baud,omitempty"`
	Parity int           `cbor:"parity,omitempty"`
}

// Recorder is a vrc.Port that copies traffic to a CBOR stream.
type Recorder struct {
	port   vrc.Port
	closer io.Closer
	enc    *cbor.Encoder
	start  time.Time

	mu  sync.Mutex
	err error
}

// NewRecorder wraps port, writing records to w.
func NewRecorder(port vrc.Port, w io.Writer) *Recorder {
	return &Recorder{
		port:  port,
		enc:   cbor.NewEncoder(w),
		start: time.Now(),
	}
}

// Create wraps port and records into a new file at path. Closing the
// recorder closes both.
func Create(port vrc.Port, path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create trace file")
	}
	r := NewRecorder(port, f)
	r.closer = f
	return r, nil
}

func (r *Recorder) record(dir Direction, data []byte, mode *serial.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec := Record{Offset: time.Since(r.start), Dir: dir}
	if data != nil {
		rec.Data = append([]byte(nil), data...)
	}
	if mode != nil {
		rec.Baud = mode.BaudRate
		rec.Parity = int(mode.Parity)
	}
	r.err = r.enc.Encode(rec)
}

func (r *Recorder) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if n > 0 {
		r.record(DirRx, p[:n], nil)
	}
	return n, err
}

func (r *Recorder) Write(p []byte) (int, error) {
	n, err := r.port.Write(p)
	if n > 0 {
		r.record(DirTx, p[:n], nil)
	}
	return n, err
}

func (r *Recorder) SetMode(mode *serial.Mode) error {
	if err := r.port.SetMode(mode); err != nil {
		return err
	}
	r.record(DirConfig, nil, mode)
	return nil
}

func (r *Recorder) SetReadTimeout(t time.Duration) error {
	return r.port.SetReadTimeout(t)
}

// Err returns the first error hit while writing the trace. Tracing stops
// after an error but the wrapped port keeps working.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the wrapped port and the trace file.
func (r *Recorder) Close() error {
	err := r.port.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close trace file")
		}
	}
	return err
}

// Reader decodes a recorded trace.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, errors.Wrap(err, "decode trace record")
	}
	return rec, nil
}

// Format renders a record as one line: offset, direction and the bytes,
// quoted when printable and in hex otherwise.
func Format(rec Record) string {
	offset := fmt.Sprintf("%10.3f", rec.Offset.Seconds())
	if rec.Dir == DirConfig {
		return fmt.Sprintf("%s %-3s %d baud %s", offset, rec.Dir, rec.Baud, parityName(rec.Parity))
	}
	return fmt.Sprintf("%s %-3s %s", offset, rec.Dir, formatData(rec.Data))
}

func formatData(data []byte) string {
	for _, b := range data {
		if (b < 0x20 || b > 0x7e) && b != '\r' && b != '\n' {
			return fmt.Sprintf("% X", data)
		}
	}
	return fmt.Sprintf("%q", string(data))
}

func parityName(p int) string {
	switch serial.Parity(p) {
	case serial.NoParity:
		return "8N1"
	case serial.EvenParity:
		return "8E1"
	case serial.OddParity:
		return "8O1"
	default:
		return fmt.Sprintf("parity(%d)", p)
	}
}
