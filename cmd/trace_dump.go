// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/vrctl/pkg/trace"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace FILE",
	Short: "Print a link trace recorded with --trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceDump,
}

func init() {
	rootCmd.AddCommand(traceCmd)
}

func runTraceDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "open trace")
	}
	defer f.Close()

	r := trace.NewReader(f)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(trace.Format(rec))
	}
}
