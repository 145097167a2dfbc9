// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"context"
	"testing"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc/vrctest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	syncs     []bool
	exchanges []string
	failures  int
}

func (o *recordingObserver) SyncAttempt(ok bool) {
	o.syncs = append(o.syncs, ok)
}

func (o *recordingObserver) Exchange(command string, err error) {
	o.exchanges = append(o.exchanges, command)
	if err != nil {
		o.failures++
	}
}

// newTestEngine returns an engine that never sleeps for real.
func newTestEngine(port *vrctest.Port, opts ...Option) *Engine {
	e := NewEngine(NewLink(port, zerolog.Nop()), opts...)
	e.cfg.sleep = func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	}
	return e
}

// newSyncedEngine returns an engine that has already completed Sync.
func newSyncedEngine(t *testing.T, port *vrctest.Port, opts ...Option) *Engine {
	t.Helper()
	port.Reply("<E000\r\n")
	e := newTestEngine(port, opts...)
	require.NoError(t, e.Sync(context.Background()))
	return e
}

func TestSync_Success(t *testing.T) {
	port := vrctest.NewPort("stale bytes")
	port.Reply("<E000\r\n")
	obs := &recordingObserver{}
	e := newTestEngine(port, WithObserver(obs))

	require.NoError(t, e.Sync(context.Background()))
	assert.Equal(t, StateSynced, e.State())
	assert.Equal(t, []string{"\r"}, port.Lines())
	assert.Equal(t, []bool{true}, obs.syncs)
}

func TestSync_RetriesUntilAck(t *testing.T) {
	port := vrctest.NewPort("")
	port.Reply("garbage\r\n").Silent().Reply("<E000\r\n")
	e := newTestEngine(port)

	require.NoError(t, e.Sync(context.Background()))
	assert.Len(t, port.Lines(), 3)
}

func TestSync_Fails(t *testing.T) {
	port := vrctest.NewPort("")
	port.Reply("<E001\r\n").Silent().Silent().Reply("<E000\r\n")
	obs := &recordingObserver{}
	e := newTestEngine(port, WithObserver(obs))

	err := e.Sync(context.Background())
	assert.Equal(t, ErrSync, err)
	assert.Equal(t, StateFatal, e.State())
	assert.Len(t, port.Lines(), SyncAttempts)
	assert.Equal(t, []bool{false, false, false}, obs.syncs)
}

func TestSync_RejectsNearMisses(t *testing.T) {
	for _, reply := range []string{
		"<E001",
		"<E0000",
		"<X000",
		"<e000",
		"E000",
		"<E000 ",
		" <E000",
		"<E00",
		"<N000",
		"garbage",
	} {
		t.Run(reply, func(t *testing.T) {
			port := vrctest.NewPort("")
			for i := 0; i < SyncAttempts; i++ {
				port.Reply(reply + "\r\n")
			}
			obs := &recordingObserver{}
			e := newTestEngine(port, WithObserver(obs))

			err := e.Sync(context.Background())
			assert.Equal(t, ErrSync, err)
			assert.Equal(t, StateFatal, e.State())
			assert.Equal(t, []bool{false, false, false}, obs.syncs)
		})
	}
}

func TestSync_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(vrctest.NewPort(""))

	err := e.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureSynced_OnlyOnce(t *testing.T) {
	port := vrctest.NewPort("")
	e := newSyncedEngine(t, port)

	require.NoError(t, e.EnsureSynced(context.Background()))
	assert.Len(t, port.Lines(), 1)
}

func TestSendThenRecv_SkipsUnrelated(t *testing.T) {
	port := vrctest.NewPort("")
	obs := &recordingObserver{}
	e := newSyncedEngine(t, port, WithObserver(obs))
	port.Reply("<N003L045\r\n<E000\r\n<X000\r\n")

	r, err := e.SendThenRecv(context.Background(), TypeStatus, ">N003ON")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Arg)
	assert.Equal(t, ">N003ON\r", port.Lines()[1])
	assert.Equal(t, []string{">N003ON"}, obs.exchanges)
}

func TestSendThenRecv_DeviceError(t *testing.T) {
	port := vrctest.NewPort("")
	e := newSyncedEngine(t, port)
	port.Reply("<E002\r\n")

	_, err := e.SendThenRecv(context.Background(), TypeStatus, ">N003ON")
	require.Error(t, err)

	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, byte('E'), devErr.Type)
	assert.Equal(t, 2, devErr.Code)
	assert.Contains(t, err.Error(), "E002")
	assert.True(t, IsFatal(err))
	assert.Equal(t, StateFatal, e.State())
}

func TestSendThenRecv_Timeout(t *testing.T) {
	port := vrctest.NewPort("")
	obs := &recordingObserver{}
	e := newSyncedEngine(t, port, WithObserver(obs), WithReplyTimeout(20*time.Millisecond))
	port.Silent()

	_, err := e.SendThenRecv(context.Background(), TypeStatus, ">N003ON")
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, IsFatal(err))
	assert.Equal(t, StateSynced, e.State())
	assert.Equal(t, 1, obs.failures)
}

func TestSendThenRecv_Malformed(t *testing.T) {
	port := vrctest.NewPort("")
	e := newSyncedEngine(t, port)
	port.Reply("<X12\r\n")

	_, err := e.SendThenRecv(context.Background(), TypeStatus, ">N003ON")
	assert.True(t, errors.Is(err, ErrMalformed))
	assert.True(t, IsFatal(err))
}

func TestUpdateNodes(t *testing.T) {
	port := vrctest.NewPort("")
	e := newSyncedEngine(t, port)
	port.Reply("<X000\r\n")

	require.NoError(t, e.UpdateNodes(context.Background()))
	assert.Equal(t, ">UP\r", port.Lines()[1])
	assert.Equal(t, StateDone, e.State())
}

func TestUpdateNodes_Failure(t *testing.T) {
	port := vrctest.NewPort("")
	e := newSyncedEngine(t, port)
	port.Reply("<X004\r\n")

	err := e.UpdateNodes(context.Background())
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	assert.Equal(t, byte('X'), devErr.Type)
	assert.Equal(t, 4, devErr.Code)
	assert.Equal(t, StateFatal, e.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "synced", StateSynced.String())
	assert.Equal(t, "state(42)", State(42).String())
}
