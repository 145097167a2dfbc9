// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vrctest provides an in-memory port for exercising the protocol
// engines without hardware.
package vrctest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is a scripted vrc.Port. Each Write releases the next scripted reply
// into the read buffer, so replies can never be flushed before the request
// that provokes them has been sent. An empty read buffer behaves like an
// expired read timeout: Read returns (0, nil).
type Port struct {
	mu       sync.Mutex
	readBuf  bytes.Buffer
	replies  [][]byte
	writes   [][]byte
	modes    []serial.Mode
	timeouts []time.Duration

	ReadErr  error
	WriteErr error
	ModeErr  error
	Closed   bool
}

// NewPort returns a port whose read buffer initially holds pending, e.g.
// stale bytes that a flush must discard.
func NewPort(pending string) *Port {
	p := &Port{}
	p.readBuf.WriteString(pending)
	return p
}

// Reply queues the bytes released by the next Write.
func (p *Port) Reply(data string) *Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, []byte(data))
	return p
}

// ReplyBytes queues raw bytes released by the next Write.
func (p *Port) ReplyBytes(data ...byte) *Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, append([]byte(nil), data...))
	return p
}

// Silent queues an empty reply: the next Write gets no answer.
func (p *Port) Silent() *Port {
	return p.ReplyBytes()
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return 0, p.ReadErr
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	n, err := p.readBuf.Read(b)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if len(p.replies) > 0 {
		p.readBuf.Write(p.replies[0])
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *Port) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModeErr != nil {
		return p.ModeErr
	}
	p.modes = append(p.modes, *mode)
	return nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, t)
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Writes returns every Write call in order.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Lines returns the writes as strings.
func (p *Port) Lines() []string {
	writes := p.Writes()
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = string(w)
	}
	return out
}

// Modes returns every mode applied with SetMode.
func (p *Port) Modes() []serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]serial.Mode, len(p.modes))
	copy(out, p.modes)
	return out
}

// Pending returns the number of unread bytes.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readBuf.Len()
}
