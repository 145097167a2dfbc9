// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// State is the engine's position in a batch run.
type State int

const (
	StateUnsynced State = iota
	StateSyncing
	StateSynced
	StateUpdating
	StateDone
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	case StateUpdating:
		return "updating"
	case StateDone:
		return "done"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine correlates requests with replies on a Link. The protocol has no
// request IDs, so replies are matched by type code and only one request may
// be outstanding.
type Engine struct {
	link  *Link
	cfg   config
	log   zerolog.Logger
	state State
}

// NewEngine creates an engine on an opened and configured link.
func NewEngine(link *Link, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		link:  link,
		cfg:   cfg,
		log:   cfg.log.With().Str("component", "engine").Logger(),
		state: StateUnsynced,
	}
}

// Link returns the link the engine drives.
func (e *Engine) Link() *Link {
	return e.link
}

// State returns the current batch state.
func (e *Engine) State() State {
	return e.state
}

// ReplyTimeout returns the per-line reply timeout.
func (e *Engine) ReplyTimeout() time.Duration {
	return e.cfg.replyTimeout
}

// SendThenRecv writes command and waits for the first reply whose type is
// expected. Replies of other types are skipped, since the controller
// interleaves unrelated node reports with direct replies.
func (e *Engine) SendThenRecv(ctx context.Context, expected byte, command string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.log.Debug().Str("command", command).Msgf("expecting '%c'", expected)
	if err := e.link.WriteLine(command); err != nil {
		return nil, e.fail(command, err)
	}

	r, err := e.WaitResponse(ctx, expected)
	if e.cfg.observer != nil {
		e.cfg.observer.Exchange(command, err)
	}
	return r, err
}

// WaitResponse reads replies until one of the expected type arrives.
func (e *Engine) WaitResponse(ctx context.Context, expected byte) (*Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := e.link.ReadLine(MaxLineLength, e.cfg.replyTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, errors.Wrapf(err, "waiting for '%c' response", expected)
			}
			return nil, e.fail("", err)
		}

		r, err := ParseResponse(line)
		if err != nil {
			return nil, e.fail("", err)
		}

		if r.Type == TypeError && r.Arg != 0 {
			return nil, e.fail("", &DeviceError{Type: TypeError, Code: r.Arg, Expected: expected})
		}
		if r.Type == expected {
			return r, nil
		}
		e.log.Trace().Str("line", line).Msg("skipping unrelated reply")
	}
}

// Sync brings an unknown link into step: wait for the line to settle, drop
// stale input, then hit enter until the controller answers <E000.
func (e *Engine) Sync(ctx context.Context) error {
	e.state = StateSyncing

	if err := e.cfg.sleep(ctx, SettleDelay); err != nil {
		return err
	}
	if _, err := e.link.FlushPending(); err != nil {
		return e.fail("", err)
	}

	for i := 0; i < SyncAttempts; i++ {
		if err := e.link.WriteLine(""); err != nil {
			return e.fail("", err)
		}

		line, err := e.link.ReadLine(MaxLineLength, e.cfg.replyTimeout)
		if errors.Is(err, ErrLink) {
			return e.fail("", err)
		}

		ok := err == nil && line == AckLine
		if e.cfg.observer != nil {
			e.cfg.observer.SyncAttempt(ok)
		}
		if ok {
			e.state = StateSynced
			e.log.Debug().Int("attempt", i+1).Msg("interface synchronized")
			return nil
		}

		e.log.Debug().Int("attempt", i+1).Str("reply", line).AnErr("err", err).Msg("sync attempt failed")
		if err := e.cfg.sleep(ctx, SyncRetryDelay); err != nil {
			return err
		}
	}

	e.state = StateFatal
	return ErrSync
}

// EnsureSynced runs Sync the first time it is called.
func (e *Engine) EnsureSynced(ctx context.Context) error {
	if e.state != StateUnsynced {
		return nil
	}
	return e.Sync(ctx)
}

// UpdateNodes tells the controller to refresh its view of the network. It is
// issued once at the end of a batch.
func (e *Engine) UpdateNodes(ctx context.Context) error {
	e.state = StateUpdating
	r, err := e.SendThenRecv(ctx, TypeStatus, UpdateCommand)
	if err != nil {
		e.state = StateFatal
		return errors.Wrap(err, "update nodes")
	}
	if r.Arg != 0 {
		e.state = StateFatal
		return &DeviceError{Type: TypeStatus, Code: r.Arg}
	}
	e.state = StateDone
	return nil
}

func (e *Engine) fail(command string, err error) error {
	e.state = StateFatal
	if e.cfg.observer != nil && command != "" {
		e.cfg.observer.Exchange(command, err)
	}
	return err
}
