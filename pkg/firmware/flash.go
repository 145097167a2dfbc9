// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"bytes"
	"context"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Flash bootloader bytes.
const (
	BootSync byte = 0x7F
	BootACK  byte = 0x79
	BootNACK byte = 0x1F

	BootProgram byte = 0x31

	// BaseAddress is where programming starts until an extended linear
	// address record moves it.
	BaseAddress uint32 = 0x08000000

	// RecoveryCommand asks the command firmware to restart into the
	// bootloader.
	RecoveryCommand = ">BOOTLOADER"

	bootSyncExchanges = 4
	bootRecoveryAt    = 3

	bootSyncTimeout   = 250 * time.Millisecond
	bootAckTimeout    = time.Second
	bootEraseTimeout  = 30 * time.Second
	bootRecoveryDelay = 2 * time.Second
)

var (
	bootErase    = []byte{0x43, 0xBC}
	bootEraseAll = []byte{0xFF, 0x00}
	bootGo       = []byte{0x21, 0xDE}
)

// FlashLoader programs the controller through its serial flash bootloader.
type FlashLoader struct {
	link *vrc.Link
	cfg  config
	log  zerolog.Logger

	// command is the profile the link was opened with, restored for
	// recovery and after the upload.
	command vrc.Profile
}

func (l *FlashLoader) Kind() Kind {
	return KindFlash
}

// Load reconfigures the link, syncs, erases and programs every data record,
// then starts the new firmware and returns the link to the profile it was
// opened with.
func (l *FlashLoader) Load(ctx context.Context, img *Image) (Result, error) {
	records := img.Records()
	t := newTracker(l.cfg, l.log, KindFlash, len(records))

	l.command = l.link.Profile()
	if l.command.BaudRate == 0 {
		l.command = vrc.CommandProfile
	}
	if err := l.link.Configure(vrc.BootloaderProfile); err != nil {
		return t.result, fatal("reconfigure", err)
	}

	t.phase("sync")
	if err := l.sync(ctx); err != nil {
		return t.result, err
	}

	t.phase("erase")
	if err := l.erase(); err != nil {
		return t.result, err
	}

	t.phase("program")
	upper := BaseAddress >> 16
	for _, line := range records {
		if err := ctx.Err(); err != nil {
			return t.result, err
		}

		rec, err := ParseRecord(line)
		if err != nil {
			var w RecordWarning
			if errors.As(err, &w) {
				t.warn(w)
				continue
			}
			return t.result, fatal("program", err)
		}

		switch rec.Type {
		case RecordExtendedLinear:
			if len(rec.Data) != 2 {
				t.warn(warn(line, "extended address record with %d data bytes", len(rec.Data)))
				continue
			}
			upper = uint32(rec.Data[0])<<8 | uint32(rec.Data[1])
			continue
		case RecordData:
		default:
			l.log.Debug().Int("line", line.Number).Uint8("type", rec.Type).Msg("skipping record")
			continue
		}

		if len(rec.Data) == 0 || len(rec.Data) > MaxRecordData {
			t.warn(warn(line, "data record with %d bytes", len(rec.Data)))
			continue
		}

		addr := upper<<16 | uint32(rec.Address)
		ack, err := l.exchange(ProgramFrame(addr, rec.Data), bootAckTimeout)
		if err != nil {
			return t.result, fatal("program", err)
		}
		t.sent()
		if ack != BootACK {
			t.warn(warn(line, "bootloader rejected record at 0x%08X (0x%02X)", addr, ack))
		}
	}

	t.phase("finalize")
	if err := l.finalize(); err != nil {
		return t.result, err
	}
	return t.finish(), nil
}

// sync wakes the bootloader. Before the third exchange the target is put
// through recovery in case it is still running the command firmware.
func (l *FlashLoader) sync(ctx context.Context) error {
	for i := 1; i <= bootSyncExchanges; i++ {
		if i == bootRecoveryAt {
			if err := l.recover(ctx); err != nil {
				return fatal("sync", err)
			}
		}
		if _, err := l.link.FlushPending(); err != nil {
			return fatal("sync", err)
		}

		ack, err := l.exchange([]byte{BootSync}, bootSyncTimeout)
		if err == nil && ack == BootACK {
			l.log.Debug().Int("attempt", i).Msg("bootloader synchronized")
			return nil
		}
		if err != nil && vrc.IsFatal(err) {
			return fatal("sync", err)
		}
		l.log.Debug().Int("attempt", i).Msg("bootloader sync failed")
	}
	return fatal("sync", errors.Wrap(ErrUnresponsive, "power cycle the controller"))
}

// recover restarts the target into its bootloader from the command side.
func (l *FlashLoader) recover(ctx context.Context) error {
	l.log.Info().Msg("trying bootloader recovery")
	if err := l.link.Configure(l.command); err != nil {
		return err
	}
	if err := l.link.WriteLine(RecoveryCommand); err != nil {
		return err
	}
	if err := l.cfg.sleep(ctx, bootRecoveryDelay); err != nil {
		return err
	}
	if _, err := l.link.FlushPending(); err != nil {
		return err
	}
	return l.link.Configure(vrc.BootloaderProfile)
}

// erase sends each erase command and reads its fixed-length raw ack.
func (l *FlashLoader) erase() error {
	steps := []struct {
		frame   []byte
		ack     []byte
		timeout time.Duration
	}{
		{bootErase, []byte{BootACK}, bootAckTimeout},
		{bootEraseAll, []byte{BootACK}, bootEraseTimeout},
	}
	for _, step := range steps {
		if err := l.link.Write(step.frame); err != nil {
			return fatal("erase", errors.Wrapf(ErrUnresponsive, "%v", err))
		}
		reply, err := l.link.ReadFull(len(step.ack), step.timeout)
		if err != nil {
			return fatal("erase", errors.Wrapf(ErrUnresponsive, "%v after % X", err, reply))
		}
		if !bytes.Equal(reply, step.ack) {
			return fatal("erase", errors.Wrapf(ErrUnresponsive, "erase answered % X", reply))
		}
	}
	return nil
}

func (l *FlashLoader) finalize() error {
	if err := l.link.Write(bootGo); err != nil {
		return fatal("finalize", err)
	}
	if err := l.link.Write(AddressFrame(BaseAddress)); err != nil {
		return fatal("finalize", err)
	}
	if err := l.link.Configure(l.command); err != nil {
		return fatal("finalize", err)
	}
	return nil
}

// exchange writes frame and reads the one byte answer.
func (l *FlashLoader) exchange(frame []byte, timeout time.Duration) (byte, error) {
	if err := l.link.Write(frame); err != nil {
		return 0, err
	}
	return l.link.ReadByteWithin(timeout)
}

// ProgramFrame builds the write frame for one data record: opcode, length,
// big-endian address, data and an XOR of everything before it.
func ProgramFrame(addr uint32, data []byte) []byte {
	frame := make([]byte, 0, len(data)+7)
	frame = append(frame, BootProgram, byte(len(data)))
	frame = append(frame, byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	frame = append(frame, data...)
	return append(frame, XORChecksum(frame))
}

// AddressFrame is a big-endian address followed by its XOR.
func AddressFrame(addr uint32) []byte {
	frame := []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	return append(frame, XORChecksum(frame))
}
