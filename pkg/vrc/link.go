// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Link owns one open port and provides byte-exact, timeout-bounded I/O on it.
// A Link is not safe for concurrent use; the protocol allows only one
// outstanding request at a time anyway.
type Link struct {
	port    Port
	profile Profile
	log     zerolog.Logger
}

// NewLink wraps an already opened port.
func NewLink(port Port, log zerolog.Logger) *Link {
	return &Link{
		port: port,
		log:  log.With().Str("component", "link").Logger(),
	}
}

// Profile returns the last profile applied with Configure.
func (l *Link) Profile() Profile {
	return l.profile
}

// Configure switches the port to a new baud/parity profile in place.
func (l *Link) Configure(profile Profile) error {
	mode, err := modeFor(profile)
	if err != nil {
		return err
	}
	if err := l.port.SetMode(mode); err != nil {
		return errors.Wrapf(ErrConfig, "set %s profile: %v", profile.Name, err)
	}
	l.profile = profile
	l.log.Debug().
		Str("profile", profile.Name).
		Int("baud", profile.BaudRate).
		Msg("link configured")
	return nil
}

// ReadByteWithin waits up to timeout for one byte. A negative timeout blocks.
func (l *Link) ReadByteWithin(timeout time.Duration) (byte, error) {
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return 0, errors.Wrapf(ErrLink, "set read timeout: %v", err)
	}

	var buf [1]byte
	n, err := l.port.Read(buf[:])
	if err != nil {
		return 0, errors.Wrapf(ErrLink, "read: %v", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// ReadFull reads exactly n raw bytes. The timeout covers the whole read.
func (l *Link) ReadFull(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, n)
	for len(buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return buf, ErrTimeout
		}
		b, err := l.ReadByteWithin(remaining)
		if err != nil {
			return buf, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}

// ReadLine accumulates bytes until CR or LF and returns the line without its
// terminator. Leading terminators are skipped so an empty line is never
// returned. The timeout is for the whole line, not per byte.
func (l *Link) ReadLine(maxLen int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, maxLen)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}

		c, err := l.ReadByteWithin(remaining)
		if err != nil {
			return "", err
		}

		if c == '\r' || c == '\n' {
			if len(buf) != 0 {
				line := string(buf)
				l.log.Trace().Str("rx", line).Msg("line")
				return line, nil
			}
			continue
		}

		if len(buf) >= maxLen {
			return "", errors.Wrapf(ErrOverflow, "no line end within %d bytes", maxLen)
		}
		buf = append(buf, c)
	}
}

// Write sends raw bytes, failing on any short write.
func (l *Link) Write(p []byte) error {
	for len(p) > 0 {
		n, err := l.port.Write(p)
		if err != nil {
			return errors.Wrapf(ErrLink, "write: %v", err)
		}
		if n <= 0 {
			return errors.Wrap(ErrLink, "short write")
		}
		p = p[n:]
	}
	return nil
}

// WriteLine sends s followed by the line terminator.
func (l *Link) WriteLine(s string) error {
	l.log.Trace().Str("tx", s).Msg("line")
	return l.Write([]byte(s + LineEnd))
}

// FlushPending discards whatever is already waiting on the port so stale
// bytes cannot be taken for a reply. It returns the number of bytes dropped.
func (l *Link) FlushPending() (int, error) {
	dropped := 0
	for {
		_, err := l.ReadByteWithin(flushPollInterval)
		if errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			return dropped, err
		}
		dropped++
	}
	if dropped > 0 {
		l.log.Debug().Int("bytes", dropped).Msg("flushed stale input")
	}
	return dropped, nil
}

// Close closes the underlying port.
func (l *Link) Close() error {
	return l.port.Close()
}
