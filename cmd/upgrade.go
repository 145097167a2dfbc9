// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/vrctl/pkg/firmware"
	"github.com/Thermoquad/vrctl/pkg/metrics"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	upgradeYes         bool
	upgradeNoTUI       bool
	upgradeMetricsFile string
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade FILE",
	Short: "Upload new firmware to the controller",
	Long: `Upload a firmware image to the controller.

The first record of the image selects the protocol: images that start with
a data record are streamed through the EEPROM loader on the normal command
link, anything else (bootloader images open with an extended address record)
goes through the flash bootloader (115200 8E1).

An interrupted upgrade leaves the controller without working firmware and
only a power cycle recovers it. Records that the target rejects are skipped
and reported at the end as warnings.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpgrade,
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
	upgradeCmd.Flags().BoolVarP(&upgradeYes, "yes", "y", false, "Do not ask for confirmation")
	upgradeCmd.Flags().BoolVar(&upgradeNoTUI, "no-tui", false, "Log progress instead of showing a progress bar")
	upgradeCmd.Flags().StringVar(&upgradeMetricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file (node_exporter textfile format)")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)

	img, err := firmware.ParseImage(args[0])
	if err != nil {
		return err
	}
	records := len(img.Records())
	a.log.Info().Str("file", args[0]).Str("loader", img.Kind.String()).Int("records", records).Msg("firmware image loaded")

	if !upgradeYes {
		ok, err := confirm(fmt.Sprintf("Upload %d records with the %s? [y/N] ", records, img.Kind))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("upgrade cancelled")
		}
	}

	m := metrics.New()
	s, err := openSession(a, vrc.WithObserver(m))
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var result firmware.Result
	if !upgradeNoTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		result, err = runUpgradeTUI(ctx, s, img, args[0])
	} else {
		result, err = firmware.Upgrade(ctx, s.engine, img,
			firmware.WithLogger(a.log),
			firmware.WithProgressCallback(logProgress(a.log, records)))
	}
	m.RecordWarnings(len(result.Warnings))
	if upgradeMetricsFile != "" {
		if werr := m.WriteTextfile(upgradeMetricsFile); werr != nil {
			a.log.Warn().Err(werr).Msg("failed to write metrics")
		}
	}
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		a.log.Warn().Msg(w.Error())
	}
	if !result.OK() {
		fmt.Printf("Upgrade completed with %d warnings\n", len(result.Warnings))
		return nil
	}
	fmt.Printf("Upgrade completed: %d records in %s\n", result.Sent, result.Elapsed.Round(100*time.Millisecond))
	return nil
}

// logProgress logs phase changes and every tenth of the records.
func logProgress(log zerolog.Logger, total int) firmware.ProgressCallback {
	step := total / 10
	if step == 0 {
		step = 1
	}
	phase := ""
	return func(p firmware.Progress) {
		if p.Phase != phase {
			phase = p.Phase
			log.Info().Str("phase", phase).Msg("upgrade")
			return
		}
		if p.Phase == "program" && p.Current%step == 0 {
			log.Info().Msgf("programmed %d/%d records (%.0f%%)", p.Current, p.Total, 100*p.Fraction())
		}
	}
}

func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("refusing to upgrade without a terminal; use --yes")
	}
	fmt.Fprint(os.Stderr, prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, errors.Wrap(err, "read answer")
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// upgradeResult carries the loader's outcome back from its goroutine.
type upgradeResult struct {
	result firmware.Result
	err    error
}

func startUpgrade(ctx context.Context, s *session, img *firmware.Image, opts ...firmware.Option) <-chan upgradeResult {
	done := make(chan upgradeResult, 1)
	go func() {
		result, err := firmware.Upgrade(ctx, s.engine, img, opts...)
		done <- upgradeResult{result: result, err: err}
	}()
	return done
}
