// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"context"
	"strings"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// EEPROM loader dialogue.
const (
	EEPROMStartCommand = ">FWUPDATE"
	EEPROMPreamble     = "<LOADER READY"
	EEPROMBlockMarker  = "<B"
	EEPROMBlockReady   = "<B000"

	eepromAckTimeout      = 500 * time.Millisecond
	eepromPreambleTimeout = 2 * time.Second
	eepromEraseTimeout    = 30 * time.Second
	eepromLineTimeout     = 5 * time.Second
	eepromVerifyTimeout   = 10 * time.Second
)

type eepromState int

const (
	eepromSyncTarget eepromState = iota
	eepromAwaitAck
	eepromAwaitPreamble
	eepromAwaitBlockHeader
	eepromStreaming
	eepromAwaitBlockAck
	eepromAwaitNext
	eepromVerifying
	eepromDone
)

// EEPROMLoader streams image lines verbatim through the command interface,
// one acknowledged line at a time.
type EEPROMLoader struct {
	engine *vrc.Engine
	cfg    config
	log    zerolog.Logger
}

func (l *EEPROMLoader) Kind() Kind {
	return KindEEPROM
}

// Load runs the upload. The first record is the image header and is not
// sent; the target asks for the remaining records block by block.
func (l *EEPROMLoader) Load(ctx context.Context, img *Image) (Result, error) {
	link := l.engine.Link()
	records := img.Records()
	if len(records) > 0 {
		records = records[1:]
	}
	t := newTracker(l.cfg, l.log, KindEEPROM, len(records))

	next := 0
	sawFinal := false
	state := eepromSyncTarget

	for state != eepromDone {
		if err := ctx.Err(); err != nil {
			return t.result, err
		}

		switch state {
		case eepromSyncTarget:
			t.phase("sync")
			if err := l.engine.Sync(ctx); err != nil {
				return t.result, fatal("sync", err)
			}
			if err := link.WriteLine(EEPROMStartCommand); err != nil {
				return t.result, fatal("start", err)
			}
			state = eepromAwaitAck

		case eepromAwaitAck:
			if err := l.expect(link, vrc.AckLine, eepromAckTimeout, "start"); err != nil {
				return t.result, err
			}
			state = eepromAwaitPreamble

		case eepromAwaitPreamble:
			if err := l.expect(link, EEPROMPreamble, eepromPreambleTimeout, "start"); err != nil {
				return t.result, err
			}
			t.phase("erase")
			state = eepromAwaitBlockHeader

		case eepromAwaitBlockHeader:
			if err := l.expect(link, EEPROMBlockMarker, eepromEraseTimeout, "erase"); err != nil {
				return t.result, err
			}
			state = eepromStreaming

		case eepromStreaming:
			if next >= len(records) {
				state = eepromVerifying
				break
			}
			line := records[next]
			next++
			if err := link.WriteLine(line.Text); err != nil {
				return t.result, fatal("program", err)
			}
			state = eepromAwaitBlockAck

		case eepromAwaitBlockAck:
			reply, err := link.ReadLine(vrc.MaxLineLength, eepromLineTimeout)
			if err != nil {
				return t.result, fatal("program", err)
			}
			t.sent()
			if reply != vrc.AckLine {
				t.warn(warn(records[next-1], "target answered %q", reply))
			}
			state = eepromAwaitNext

		case eepromAwaitNext:
			reply, err := link.ReadLine(vrc.MaxLineLength, eepromLineTimeout)
			if err != nil {
				return t.result, fatal("program", err)
			}
			switch {
			case strings.HasPrefix(reply, EEPROMBlockMarker):
				state = eepromStreaming
			case reply[0] == RecordMarker:
				sawFinal = true
				if remaining := len(records) - next; remaining > 0 {
					l.log.Warn().Int("unsent", remaining).Msg("target ended the upload early")
				}
				state = eepromVerifying
			default:
				return t.result, fatal("program", errors.Wrapf(vrc.ErrMalformed, "unexpected reply %q", reply))
			}

		case eepromVerifying:
			t.phase("verify")
			if err := l.drain(link, sawFinal); err != nil {
				return t.result, err
			}
			state = eepromDone
		}
	}

	return t.finish(), nil
}

// expect reads one reply and checks it starts with prefix.
func (l *EEPROMLoader) expect(link *vrc.Link, prefix string, timeout time.Duration, phase string) error {
	reply, err := link.ReadLine(vrc.MaxLineLength, timeout)
	if err != nil {
		return fatal(phase, errors.Wrapf(err, "waiting for %q", prefix))
	}
	if !strings.HasPrefix(reply, prefix) {
		return fatal(phase, errors.Wrapf(vrc.ErrMalformed, "expected %q, got %q", prefix, reply))
	}
	l.log.Debug().Str("reply", reply).Msg("loader reply")
	return nil
}

// drain waits out the target's closing replies: the final record echo, if
// not already seen, then the block-ready marker. Nothing is compared.
func (l *EEPROMLoader) drain(link *vrc.Link, sawFinal bool) error {
	for {
		reply, err := link.ReadLine(vrc.MaxLineLength, eepromVerifyTimeout)
		if err != nil {
			return fatal("verify", err)
		}
		if !sawFinal {
			sawFinal = reply[0] == RecordMarker
			continue
		}
		if reply == EEPROMBlockReady {
			return nil
		}
	}
}
