// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display controller replies and node reports as they arrive",
	Long: `Synchronise with the controller, then decode and display every line it
sends, including unsolicited node reports. Temperature and thermostat mode
sub-reports are rendered; malformed lines are shown as errors and monitoring
continues.

With --stats, a summary of line counts and error rates is printed on exit.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var showStats bool

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showStats, "stats", false, "Print line statistics on exit")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)
	s, err := openSession(a)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.engine.Sync(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("Press Ctrl+C to exit")

	stats := vrc.NewStatistics()
	if showStats {
		defer func() { fmt.Print("\n" + stats.String()) }()
	}

	for ctx.Err() == nil {
		line, err := s.link.ReadLine(vrc.MaxLineLength, time.Second)
		switch {
		case errors.Is(err, vrc.ErrTimeout):
			continue
		case errors.Is(err, vrc.ErrOverflow):
			stats.Update(nil, err)
			fmt.Printf("[ERROR] %v\n", err)
			continue
		case err != nil:
			if errors.Is(err, vrc.ErrLink) {
				a.log.Info().Err(err).Msg("Connection closed")
				return nil
			}
			return err
		}

		stamp := time.Now().Format("15:04:05.000")
		r, err := vrc.ParseResponse(line)
		stats.Update(r, err)
		if err != nil {
			fmt.Printf("%s [ERROR] %v: %q\n", stamp, err, line)
			continue
		}
		fmt.Printf("%s %-24s %s\n", stamp, line, describe(r))
	}
	return nil
}

// describe renders a decoded reply for humans.
func describe(r *vrc.Response) string {
	switch r.Type {
	case vrc.TypeError:
		if r.Arg == 0 {
			return "ok"
		}
		return fmt.Sprintf("error %d", r.Arg)
	case vrc.TypeStatus:
		if r.Arg == 0 {
			return "command accepted"
		}
		return fmt.Sprintf("command failed (%d)", r.Arg)
	case vrc.TypeNode:
		node := fmt.Sprintf("node %d", r.Arg)
		switch {
		case r.HasTemperature():
			return fmt.Sprintf("%s temperature %s", node, r.Temperature)
		case r.SubReport == vrc.ReportThermostatMode:
			return fmt.Sprintf("%s mode %s", node, vrc.ThermostatModeName(r.Mode))
		case r.SubReport == vrc.ReportOther:
			return fmt.Sprintf("%s class %d report %v", node, r.Class, r.Fields)
		case r.SubType == vrc.TypeLevel:
			return fmt.Sprintf("%s level %d", node, r.SubArg)
		case r.SubType != 0:
			return fmt.Sprintf("%s %c%03d", node, r.SubType, r.SubArg)
		}
		return node
	}
	if r.SubType != 0 && r.SubType != ':' {
		return fmt.Sprintf("%c%03d %c%03d", r.Type, r.Arg, r.SubType, r.SubArg)
	}
	return fmt.Sprintf("%c%03d", r.Type, r.Arg)
}
