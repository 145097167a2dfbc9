// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives protocol events, e.g. for metrics.
type Observer interface {
	SyncAttempt(ok bool)
	Exchange(command string, err error)
}

type config struct {
	log          zerolog.Logger
	replyTimeout time.Duration
	observer     Observer
	sleep        func(ctx context.Context, d time.Duration) error
}

func defaultConfig() config {
	return config{
		log:          zerolog.Nop(),
		replyTimeout: DefaultReplyTimeout,
		sleep:        sleepContext,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithLogger sets the logger used for protocol tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithReplyTimeout sets how long to wait for each reply line.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.replyTimeout = d
		}
	}
}

// WithObserver registers an Observer for sync attempts and exchanges.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
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
