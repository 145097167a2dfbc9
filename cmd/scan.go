// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	scanFrom int
	scanTo   int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find which node IDs answer a status query",
	Long: `Query the status of every node ID in a range and list the nodes that
report a level. Nodes the controller rejects or that never report are
skipped.

Examples:
  # Scan the first 32 node IDs
  vrctl scan

  # Scan the whole network
  vrctl scan --from 1 --to 232

Exits non-zero if no node answered.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanFrom, "from", 1, "First node ID")
	scanCmd.Flags().IntVar(&scanTo, "to", 32, "Last node ID")
}

// scanHit is a node that answered a status query.
type scanHit struct {
	node  int
	level int
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFrom < 0 || scanTo > vrc.MaxNodeID || scanFrom > scanTo {
		return errors.Errorf("node range must be within 0-%d", vrc.MaxNodeID)
	}

	a := appFrom(cmd)
	s, err := openSession(a)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	ctrl := vrc.NewController(s.engine, a.log)
	status := vrc.Command{Kind: vrc.KindStatus}

	fmt.Printf("Scanning nodes %d-%d\n", scanFrom, scanTo)
	var hits []scanHit
	for id := scanFrom; id <= scanTo; id++ {
		out, err := ctrl.Run(ctx, vrc.Node(id), status)
		switch {
		case vrc.IsFatal(err):
			return err
		case err != nil:
			a.log.Debug().Int("node", id).Err(err).Msg("no report")
			continue
		case out.Rejected():
			a.log.Debug().Int("node", id).Int("code", out.Code).Msg("rejected")
			continue
		}
		hits = append(hits, scanHit{node: id, level: out.Status})
		fmt.Printf("  node %3d  level %03d%s\n", id, out.Status, aliasSuffix(a, id))
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Nodes found: %d\n", len(hits))
	if len(hits) == 0 {
		fmt.Printf("No nodes answered. Check the connection and that nodes are included in the network.\n")
		return errCommandsFailed
	}
	return nil
}

// aliasSuffix names the configured alias for id, if any.
func aliasSuffix(a *app, id int) string {
	for _, name := range a.cfg.Names() {
		if nid, ok := a.cfg.Aliases[name]; ok && nid == id {
			return " (" + name + ")"
		}
	}
	return ""
}
