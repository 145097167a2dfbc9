// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Statistics tallies the lines seen on a link and their error rates.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines     uint64
	ValidLines     uint64
	MalformedLines uint64
	Overflows      uint64
	Acks           uint64
	DeviceErrors   uint64
	Statuses       uint64
	FailedStatuses uint64
	NodeReports    uint64
	Temperatures   uint64
	ModeReports    uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics starts a tracker at the current time.
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one read result. Timeouts are not lines and are ignored.
func (s *Statistics) Update(r *Response, readErr error) {
	if errors.Is(readErr, ErrTimeout) {
		return
	}
	s.TotalLines++
	s.LastUpdateTime = time.Now()

	switch {
	case errors.Is(readErr, ErrOverflow):
		s.Overflows++
		return
	case readErr != nil || r == nil:
		s.MalformedLines++
		return
	}

	s.ValidLines++
	switch r.Type {
	case TypeError:
		if r.Arg == 0 {
			s.Acks++
		} else {
			s.DeviceErrors++
		}
	case TypeStatus:
		s.Statuses++
		if r.Arg != 0 {
			s.FailedStatuses++
		}
	case TypeNode:
		s.NodeReports++
		switch r.SubReport {
		case ReportTemperature:
			s.Temperatures++
		case ReportThermostatMode:
			s.ModeReports++
		}
	}
}

// Errors is the number of lines that were malformed, overflowed, or
// carried a nonzero E code.
func (s *Statistics) Errors() uint64 {
	return s.MalformedLines + s.Overflows + s.DeviceErrors
}

// CalculateRates derives the line and error rates from the elapsed time.
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.TotalLines) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalLines == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalLines)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Lines:     %8d\n", s.TotalLines)
	fmt.Fprintf(&b, "Valid Lines:     %8d (%.1f%%)\n", s.ValidLines, percent(s.ValidLines))
	if s.MalformedLines > 0 {
		fmt.Fprintf(&b, "Malformed:       %8d (%.1f%%)\n", s.MalformedLines, percent(s.MalformedLines))
	}
	if s.Overflows > 0 {
		fmt.Fprintf(&b, "Overflows:       %8d (%.1f%%)\n", s.Overflows, percent(s.Overflows))
	}
	if s.DeviceErrors > 0 {
		fmt.Fprintf(&b, "Device Errors:   %8d (%.1f%%)\n", s.DeviceErrors, percent(s.DeviceErrors))
	}
	fmt.Fprintf(&b, "Acks:            %8d\n", s.Acks)
	fmt.Fprintf(&b, "Statuses:        %8d", s.Statuses)
	if s.FailedStatuses > 0 {
		fmt.Fprintf(&b, " (%d failed)", s.FailedStatuses)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Node Reports:    %8d\n", s.NodeReports)
	if s.Temperatures > 0 {
		fmt.Fprintf(&b, "  Temperature:      %5d\n", s.Temperatures)
	}
	if s.ModeReports > 0 {
		fmt.Fprintf(&b, "  Thermostat Mode:  %5d\n", s.ModeReports)
	}
	fmt.Fprintf(&b, "Line Rate:       %8.1f lines/sec\n", s.LineRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset zeroes every counter and restarts the clock.
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
