// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package firmware uploads firmware images to the controller. Two
// incompatible protocols exist: a line based EEPROM loader spoken through
// the normal command interface, and a binary flash bootloader at its own
// line settings. The image itself says which one to use.
package firmware

import (
	"context"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/rs/zerolog"
)

// Loader drives one upload protocol to completion.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, img *Image) (Result, error)
}

// Result summarises a finished upload.
type Result struct {
	Kind     Kind
	Sent     int
	Warnings []RecordWarning
	Elapsed  time.Duration
}

// OK reports whether the upload finished without warnings.
func (r Result) OK() bool {
	return len(r.Warnings) == 0
}

// NewLoader returns the loader for kind.
func NewLoader(kind Kind, engine *vrc.Engine, opts ...Option) Loader {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if kind == KindEEPROM {
		return &EEPROMLoader{engine: engine, cfg: cfg, log: componentLog(cfg, "eeprom")}
	}
	return &FlashLoader{link: engine.Link(), cfg: cfg, log: componentLog(cfg, "flash")}
}

// Upgrade uploads img with the loader its first record selects.
func Upgrade(ctx context.Context, engine *vrc.Engine, img *Image, opts ...Option) (Result, error) {
	return NewLoader(img.Kind, engine, opts...).Load(ctx, img)
}

func componentLog(cfg config, name string) zerolog.Logger {
	return cfg.log.With().Str("component", name).Logger()
}

// tracker accumulates warnings and reports progress for one upload.
type tracker struct {
	cfg    config
	log    zerolog.Logger
	start  time.Time
	total  int
	result Result
}

func newTracker(cfg config, log zerolog.Logger, kind Kind, total int) *tracker {
	return &tracker{
		cfg:    cfg,
		log:    log,
		start:  time.Now(),
		total:  total,
		result: Result{Kind: kind},
	}
}

func (t *tracker) phase(name string) {
	t.log.Debug().Str("phase", name).Msg("upgrade phase")
	t.report(name)
}

func (t *tracker) sent() {
	t.result.Sent++
	t.report("program")
}

func (t *tracker) warn(w RecordWarning) {
	t.log.Warn().Int("line", w.Line).Msg(w.Reason)
	t.result.Warnings = append(t.result.Warnings, w)
}

func (t *tracker) report(phase string) {
	if t.cfg.progress == nil {
		return
	}
	t.cfg.progress(Progress{
		Phase:    phase,
		Current:  t.result.Sent,
		Total:    t.total,
		Warnings: len(t.result.Warnings),
		Elapsed:  time.Since(t.start),
	})
}

func (t *tracker) finish() Result {
	t.result.Elapsed = time.Since(t.start)
	t.report("complete")
	if t.result.OK() {
		t.log.Info().Int("records", t.result.Sent).Dur("elapsed", t.result.Elapsed).Msg("upgrade complete")
	} else {
		t.log.Warn().Int("records", t.result.Sent).Int("warnings", len(t.result.Warnings)).Msg("upgrade completed with warnings")
	}
	return t.result
}
