// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Progress reports how far an upload has got.
type Progress struct {
	// Phase is one of "sync", "erase", "program", "verify", "finalize" or
	// "complete".
	Phase string

	// Current is the number of records sent so far.
	Current int

	// Total is the number of records the upload will send.
	Total int

	// Warnings is the number of records skipped or rejected so far.
	Warnings int

	Elapsed time.Duration
}

// Fraction returns completion in the range 0 to 1.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total)
}

// ProgressCallback is called from the upload goroutine and should return
// quickly.
type ProgressCallback func(Progress)

type config struct {
	log      zerolog.Logger
	progress ProgressCallback
	sleep    func(ctx context.Context, d time.Duration) error
}

func defaultConfig() config {
	return config{
		log:   zerolog.Nop(),
		sleep: sleepContext,
	}
}

// Option configures a Loader.
type Option func(*config)

// WithLogger sets the logger for upload progress and record warnings.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithProgressCallback registers a callback for upload progress.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(c *config) {
		c.progress = cb
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
