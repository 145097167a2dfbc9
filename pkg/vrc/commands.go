// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Kind is a device action.
type Kind int

const (
	KindOn Kind = iota
	KindOff
	KindBounce
	KindToggle
	KindLevel
	KindStatus
	KindLock
	KindUnlock
	KindScene
	KindTemperature
	KindThermostatMode
)

var kindNames = map[Kind]string{
	KindOn:             "on",
	KindOff:            "off",
	KindBounce:         "bounce",
	KindToggle:         "toggle",
	KindLevel:          "level",
	KindStatus:         "status",
	KindLock:           "lock",
	KindUnlock:         "unlock",
	KindScene:          "scene",
	KindTemperature:    "temp",
	KindThermostatMode: "mode",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NeedsArg reports whether the command takes a numeric argument.
func (k Kind) NeedsArg() bool {
	return k == KindLevel || k == KindScene
}

// SingleNodeOnly reports whether the command must address exactly one node.
func (k Kind) SingleNodeOnly() bool {
	switch k {
	case KindStatus, KindToggle, KindLock, KindUnlock, KindTemperature, KindThermostatMode:
		return true
	}
	return false
}

// LookupKind finds a command by its case-insensitive name.
func LookupKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, true
		}
	}
	return 0, false
}

// Command is one device action with its argument, if any.
type Command struct {
	Kind Kind
	Arg  int
}

// NewCommand builds a command, parsing and range checking arg for the kinds
// that need one.
func NewCommand(kind Kind, arg string) (Command, error) {
	c := Command{Kind: kind}
	switch kind {
	case KindLevel:
		v, err := ParseUint(arg, 0, "brightness level", MaxLevel)
		if err != nil {
			return c, err
		}
		c.Arg = v
	case KindScene:
		v, err := ParseUint(arg, 0, "scene number", MaxScene)
		if err != nil {
			return c, err
		}
		c.Arg = v
	}
	return c, nil
}

// ParseCommand parses "on", "level 128", "scene 3" and the like.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	kind, ok := LookupKind(fields[0])
	if !ok {
		return Command{}, errors.Errorf("bad command '%s'", fields[0])
	}
	switch {
	case kind.NeedsArg() && len(fields) != 2:
		return Command{}, errors.Errorf("%s requires an argument", kind)
	case !kind.NeedsArg() && len(fields) != 1:
		return Command{}, errors.Errorf("%s takes no argument", kind)
	}
	arg := ""
	if len(fields) == 2 {
		arg = fields[1]
	}
	return NewCommand(kind, arg)
}

// Validate checks that the command can be sent to target.
func (c Command) Validate(target Target) error {
	if c.Kind.SingleNodeOnly() && !target.IsSingle() {
		return errors.Errorf("can't %s %s at once", c.Kind, target)
	}
	return nil
}

func (c Command) String() string {
	if c.Kind.NeedsArg() {
		return fmt.Sprintf("%s %d", c.Kind, c.Arg)
	}
	return c.Kind.String()
}

// Outcome is the result of one command. Status is 0 for success, negative
// for a controller X code and otherwise the value read (dim level,
// temperature, thermostat mode). A temperature may itself be negative, so
// Code alone tells whether the controller rejected the command. Reading is
// the human readable form of a value.
type Outcome struct {
	Status  int
	Code    int
	Reading string
}

// Rejected reports whether the controller answered with a nonzero X code.
func (o Outcome) Rejected() bool {
	return o.Code != 0
}

func rejected(code int) Outcome {
	return Outcome{Status: -code, Code: code}
}

// Controller maps device actions onto request/response exchanges.
type Controller struct {
	engine *Engine
	log    zerolog.Logger
}

// NewController creates a controller on top of an engine.
func NewController(engine *Engine, log zerolog.Logger) *Controller {
	return &Controller{
		engine: engine,
		log:    log.With().Str("component", "controller").Logger(),
	}
}

// Engine returns the underlying request/response engine.
func (c *Controller) Engine() *Engine {
	return c.engine
}

// Run executes one command, synchronising the link first if needed.
func (c *Controller) Run(ctx context.Context, target Target, cmd Command) (Outcome, error) {
	if err := cmd.Validate(target); err != nil {
		return Outcome{}, err
	}
	if err := c.engine.EnsureSynced(ctx); err != nil {
		return Outcome{}, err
	}

	switch cmd.Kind {
	case KindOn:
		return c.direct(ctx, target, cmd, "ON")
	case KindOff:
		return c.direct(ctx, target, cmd, "OF")
	case KindBounce:
		return c.bounce(ctx, target)
	case KindToggle:
		return c.toggle(ctx, target)
	case KindLevel:
		return c.direct(ctx, target, cmd, fmt.Sprintf("L%03d", cmd.Arg))
	case KindStatus:
		return c.status(ctx, target)
	case KindLock:
		return c.direct(ctx, target, cmd, fmt.Sprintf("SS%d,1,255", ClassDoorLock))
	case KindUnlock:
		return c.direct(ctx, target, cmd, fmt.Sprintf("SS%d,1,0", ClassDoorLock))
	case KindScene:
		return c.direct(ctx, target, cmd, fmt.Sprintf("S%d", cmd.Arg))
	case KindTemperature:
		return c.temperature(ctx, target)
	case KindThermostatMode:
		return c.thermostatMode(ctx, target)
	default:
		return Outcome{}, errors.Errorf("command %s is unimplemented", cmd.Kind)
	}
}

// direct sends a command that is answered by a single X status.
func (c *Controller) direct(ctx context.Context, target Target, cmd Command, suffix string) (Outcome, error) {
	code, err := c.sendStatus(ctx, ">"+target.address()+suffix)
	if err != nil {
		return Outcome{}, err
	}
	if code != 0 {
		c.log.Error().Msgf("%s returned X%03d for %s command", target, code, strings.ToUpper(cmd.Kind.String()))
		return rejected(code), nil
	}
	return Outcome{}, nil
}

func (c *Controller) sendStatus(ctx context.Context, command string) (int, error) {
	r, err := c.engine.SendThenRecv(ctx, TypeStatus, command)
	if err != nil {
		return 0, err
	}
	return r.Arg, nil
}

func (c *Controller) bounce(ctx context.Context, target Target) (Outcome, error) {
	out, err := c.direct(ctx, target, Command{Kind: KindOff}, "OF")
	if err != nil || out.Rejected() {
		return out, err
	}
	if err := c.engine.cfg.sleep(ctx, BounceDelay); err != nil {
		return Outcome{}, err
	}
	return c.direct(ctx, target, Command{Kind: KindOn}, "ON")
}

func (c *Controller) toggle(ctx context.Context, target Target) (Outcome, error) {
	out, err := c.status(ctx, target)
	if err != nil || out.Rejected() {
		return out, err
	}
	if out.Status == 0 {
		return c.direct(ctx, target, Command{Kind: KindOn}, "ON")
	}
	return c.direct(ctx, target, Command{Kind: KindOff}, "OF")
}

// status returns 0 for off and the dim level (255 for a relay) for on.
func (c *Controller) status(ctx context.Context, target Target) (Outcome, error) {
	code, err := c.sendStatus(ctx, fmt.Sprintf(">?N%03d", target.ID))
	if err != nil {
		return Outcome{}, err
	}
	if code != 0 {
		c.log.Error().Msgf("%s returned X%03d for STATUS command", target, code)
		return rejected(code), nil
	}

	r, err := c.awaitNodeReport(ctx, target.ID, func(r *Response) bool {
		return r.SubType == TypeLevel
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: r.SubArg, Reading: fmt.Sprintf("%03d", r.SubArg)}, nil
}

func (c *Controller) temperature(ctx context.Context, target Target) (Outcome, error) {
	code, err := c.sendStatus(ctx, fmt.Sprintf(">N%03dSS%d,4", target.ID, ClassSensorMultilevel))
	if err != nil {
		return Outcome{}, err
	}
	if code != 0 {
		c.log.Error().Msgf("%s returned X%03d for TEMP command", target, code)
		return rejected(code), nil
	}

	r, err := c.awaitNodeReport(ctx, target.ID, func(r *Response) bool {
		return r.HasTemperature() && r.Class == ClassSensorMultilevel
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: r.Temperature.Value, Reading: r.Temperature.String()}, nil
}

func (c *Controller) thermostatMode(ctx context.Context, target Target) (Outcome, error) {
	code, err := c.sendStatus(ctx, fmt.Sprintf(">N%03dSS%d,2", target.ID, ClassThermostatMode))
	if err != nil {
		return Outcome{}, err
	}
	if code != 0 {
		c.log.Error().Msgf("%s returned X%03d for MODE command", target, code)
		return rejected(code), nil
	}

	r, err := c.awaitNodeReport(ctx, target.ID, func(r *Response) bool {
		return r.SubReport == ReportThermostatMode
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: r.Mode, Reading: ThermostatModeName(r.Mode)}, nil
}

// awaitNodeReport waits for an N report from node that satisfies match.
// Reports for other nodes are skipped.
func (c *Controller) awaitNodeReport(ctx context.Context, node int, match func(*Response) bool) (*Response, error) {
	for {
		r, err := c.engine.WaitResponse(ctx, TypeNode)
		if err != nil {
			return nil, err
		}
		if r.Arg == node && match(r) {
			return r, nil
		}
	}
}

// ThermostatModeName names the standard Z-Wave thermostat modes.
func ThermostatModeName(mode int) string {
	names := []string{"off", "heat", "cool", "auto", "auxiliary", "resume", "fan", "furnace", "dry", "moist", "auto-changeover", "energy-heat", "energy-cool", "away"}
	if mode >= 0 && mode < len(names) {
		return names[mode]
	}
	return fmt.Sprintf("mode %d", mode)
}
