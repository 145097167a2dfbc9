// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/Thermoquad/vrctl/pkg/vrc/vrctest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// flashImage builds an image that opens with an extended linear address
// record for the base address, as bootloader images do.
func flashImage(t *testing.T, lines ...string) *Image {
	t.Helper()
	lines = append([]string{makeRecord(RecordExtendedLinear, 0, []byte{0x08, 0x00})}, lines...)
	img, err := ParseImageReader(strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.Equal(t, KindFlash, img.Kind)
	return img
}

func newFlashLoader(port *vrctest.Port) *FlashLoader {
	l := NewLoader(KindFlash, newEngine(port)).(*FlashLoader)
	l.cfg.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return l
}

func TestProgramFrame(t *testing.T) {
	frame := ProgramFrame(0x08000010, []byte{0xAA, 0x55})
	assert.Equal(t, []byte{0x31, 0x02, 0x08, 0x00, 0x00, 0x10, 0xAA, 0x55, 0xD4}, frame)
	assert.Equal(t, byte(0), XORChecksum(frame))
}

func TestAddressFrame(t *testing.T) {
	assert.Equal(t, []byte{0x08, 0x00, 0x00, 0x00, 0x08}, AddressFrame(BaseAddress))
}

func TestFlashLoader_Program(t *testing.T) {
	data1 := []byte{0x01, 0x02, 0x03, 0x04}
	data2 := []byte{0x05, 0x06}
	img := flashImage(t,
		makeRecord(RecordData, 0x0000, data1),
		makeRecord(RecordExtendedLinear, 0, []byte{0x08, 0x01}),
		makeRecord(RecordData, 0x0010, data2),
		makeRecord(RecordEndOfFile, 0, nil),
	)

	port := vrctest.NewPort("")
	port.ReplyBytes(BootACK) // sync
	port.ReplyBytes(BootACK) // erase
	port.ReplyBytes(BootACK) // erase all
	port.ReplyBytes(BootACK) // first data record
	port.ReplyBytes(BootACK) // second data record

	result, err := newFlashLoader(port).Load(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, 2, result.Sent)

	assert.Equal(t, [][]byte{
		{BootSync},
		{0x43, 0xBC},
		{0xFF, 0x00},
		ProgramFrame(0x08000000, data1),
		ProgramFrame(0x08010010, data2),
		{0x21, 0xDE},
		{0x08, 0x00, 0x00, 0x00, 0x08},
	}, port.Writes())

	modes := port.Modes()
	require.Len(t, modes, 2)
	assert.Equal(t, 115200, modes[0].BaudRate)
	assert.Equal(t, serial.EvenParity, modes[0].Parity)
	assert.Equal(t, 9600, modes[1].BaudRate)
}

func TestFlashLoader_RecordWarnings(t *testing.T) {
	good := makeRecord(RecordData, 0x0000, []byte{0x01})
	img := flashImage(t,
		good,
		makeRecord(RecordData, 0x0004, nil),
		makeRecord(RecordData, 0x0008, make([]byte, MaxRecordData+1)),
		good[:len(good)-2]+"00",
		makeRecord(RecordData, 0x0010, []byte{0x02}),
	)

	port := vrctest.NewPort("")
	port.ReplyBytes(BootACK).ReplyBytes(BootACK).ReplyBytes(BootACK)
	port.ReplyBytes(BootACK)  // first record
	port.ReplyBytes(BootNACK) // last record

	result, err := newFlashLoader(port).Load(context.Background(), img)
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Equal(t, 2, result.Sent)

	var lines []int
	for _, w := range result.Warnings {
		lines = append(lines, w.Line)
	}
	assert.Equal(t, []int{3, 4, 5, 6}, lines)
}

func TestFlashLoader_Recovery(t *testing.T) {
	img := flashImage(t, makeRecord(RecordData, 0, []byte{0x01}))

	port := vrctest.NewPort("")
	port.Silent()            // sync 1
	port.Silent()            // sync 2
	port.Reply("<E000\r\n")  // recovery command
	port.ReplyBytes(BootACK) // sync 3
	port.ReplyBytes(BootACK) // erase
	port.ReplyBytes(BootACK) // erase all
	port.ReplyBytes(BootACK) // record

	result, err := newFlashLoader(port).Load(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, result.OK())

	writes := port.Writes()
	require.GreaterOrEqual(t, len(writes), 4)
	assert.Equal(t, []byte{BootSync}, writes[0])
	assert.Equal(t, []byte{BootSync}, writes[1])
	assert.Equal(t, RecoveryCommand+"\r", string(writes[2]))
	assert.Equal(t, []byte{BootSync}, writes[3])

	var bauds []int
	for _, m := range port.Modes() {
		bauds = append(bauds, m.BaudRate)
	}
	assert.Equal(t, []int{115200, 9600, 115200, 9600}, bauds)
}

func TestFlashLoader_RestoresOpeningProfile(t *testing.T) {
	img := flashImage(t, makeRecord(RecordData, 0, []byte{0x01}))

	port := vrctest.NewPort("")
	port.Silent()            // sync 1
	port.Silent()            // sync 2
	port.Reply("<E000\r\n")  // recovery command
	port.ReplyBytes(BootACK) // sync 3
	port.ReplyBytes(BootACK) // erase
	port.ReplyBytes(BootACK) // erase all
	port.ReplyBytes(BootACK) // record

	l := newFlashLoader(port)
	opening, err := vrc.ProfileForBaud(38400)
	require.NoError(t, err)
	require.NoError(t, l.link.Configure(opening))

	_, err = l.Load(context.Background(), img)
	require.NoError(t, err)

	var bauds []int
	for _, m := range port.Modes() {
		bauds = append(bauds, m.BaudRate)
	}
	assert.Equal(t, []int{38400, 115200, 38400, 115200, 38400}, bauds)
	assert.Equal(t, opening, l.link.Profile())
}

func TestFlashLoader_SyncGivesUp(t *testing.T) {
	img := flashImage(t, makeRecord(RecordData, 0, []byte{0x01}))
	port := vrctest.NewPort("")
	port.ReplyBytes(BootNACK).Silent().Silent().Silent().Silent()

	_, err := newFlashLoader(port).Load(context.Background(), img)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "sync", fe.Phase)
	assert.True(t, errors.Is(err, ErrUnresponsive))
	assert.Len(t, port.Writes(), bootSyncExchanges+1)
}

func TestFlashLoader_EraseFailure(t *testing.T) {
	tests := []struct {
		name    string
		replies [][]byte
	}{
		{"no answer", [][]byte{{BootACK}, {}}},
		{"nack", [][]byte{{BootACK}, {BootNACK}}},
		{"stray byte", [][]byte{{BootACK}, {0x00}}},
		{"erase all times out", [][]byte{{BootACK}, {BootACK}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := flashImage(t, makeRecord(RecordData, 0, []byte{0x01}))
			port := vrctest.NewPort("")
			for _, r := range tt.replies {
				port.ReplyBytes(r...)
			}

			_, err := newFlashLoader(port).Load(context.Background(), img)
			var fe *FatalError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "erase", fe.Phase)
			assert.True(t, errors.Is(err, ErrUnresponsive))
		})
	}
}

func TestFlashLoader_ProgramTimeoutIsFatal(t *testing.T) {
	img := flashImage(t, makeRecord(RecordData, 0, []byte{0x01}))
	port := vrctest.NewPort("")
	port.ReplyBytes(BootACK).ReplyBytes(BootACK).ReplyBytes(BootACK).Silent()

	_, err := newFlashLoader(port).Load(context.Background(), img)
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "program", fe.Phase)
	assert.True(t, errors.Is(err, vrc.ErrTimeout))
}
