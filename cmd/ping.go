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

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the controller answers and measure round-trip time",
	Long: `Synchronise with the controller, then send empty command lines and wait for
the <E000 acknowledgment to each.

This is useful for verifying:
  - the serial port or WebSocket bridge is connected
  - the line settings match the controller
  - the controller is responsive

Exits non-zero if any ping failed or timed out.`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingCount < 1 {
		return errors.New("count must be at least 1")
	}

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

	var (
		received int
		total    time.Duration
	)
	for i := 1; i <= pingCount; i++ {
		start := time.Now()
		_, err := s.engine.SendThenRecv(ctx, vrc.TypeError, "")
		rtt := time.Since(start)

		switch {
		case errors.Is(err, vrc.ErrTimeout):
			fmt.Printf("ping %d/%d: timeout after %v\n", i, pingCount, s.engine.ReplyTimeout())
		case err != nil:
			return err
		default:
			received++
			total += rtt
			fmt.Printf("ping %d/%d: ack, rtt=%v\n", i, pingCount, rtt.Round(time.Millisecond))
		}

		if i < pingCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	fmt.Printf("\n--- %s ping statistics ---\n", s.info)
	fmt.Printf("%d pings sent, %d acknowledged, %.0f%% loss", pingCount, received,
		float64(pingCount-received)/float64(pingCount)*100)
	if received > 0 {
		fmt.Printf(", avg rtt=%v", (total / time.Duration(received)).Round(time.Millisecond))
	}
	fmt.Println()

	if received < pingCount {
		return errCommandsFailed
	}
	return nil
}
