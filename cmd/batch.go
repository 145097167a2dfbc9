// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/vrctl/pkg/config"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// step is one "<node> <command> [<arg>]" group from the command line.
type step struct {
	node    string
	targets []vrc.Target
	command vrc.Command
}

// parseSteps validates the whole batch before the port is touched.
func parseSteps(cfg *config.Config, args []string) ([]step, error) {
	var steps []step
	for i := 0; i < len(args); {
		node := args[i]
		i++

		targets, err := cfg.Resolve(node)
		if err != nil {
			return nil, err
		}
		if i >= len(args) {
			return nil, errors.Errorf("command for node '%s' was not specified", node)
		}

		name := args[i]
		i++
		kind, ok := vrc.LookupKind(name)
		if !ok {
			return nil, errors.Errorf("bad command '%s'", name)
		}

		arg := ""
		if kind.NeedsArg() {
			if i >= len(args) {
				return nil, errors.Errorf("%s requires an argument", name)
			}
			arg = args[i]
			i++
		}

		command, err := vrc.NewCommand(kind, arg)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if err := command.Validate(t); err != nil {
				return nil, err
			}
		}
		steps = append(steps, step{node: node, targets: targets, command: command})
	}
	return steps, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)

	if listNames {
		return printNames(a.cfg)
	}
	if len(args) == 0 {
		return cmd.Help()
	}

	steps, err := parseSteps(a.cfg, args)
	if err != nil {
		return err
	}

	s, err := openSession(a)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	ctrl := vrc.NewController(s.engine, a.log)
	failed := false

	for _, st := range steps {
		for _, target := range st.targets {
			out, err := ctrl.Run(ctx, target, st.command)
			if err != nil {
				if vrc.IsFatal(err) {
					return err
				}
				a.log.Error().Err(err).Msgf("%s: %s failed", target, st.command)
				failed = true
				continue
			}
			if out.Rejected() {
				failed = true
				continue
			}
			if out.Reading != "" {
				printReading(st, target, out)
			}
		}
	}

	if err := s.engine.UpdateNodes(ctx); err != nil {
		return err
	}
	if failed {
		return errCommandsFailed
	}
	return nil
}

// printReading writes query results to stdout. A single target prints the
// bare value so scripts can consume it.
func printReading(st step, target vrc.Target, out vrc.Outcome) {
	if len(st.targets) == 1 {
		fmt.Println(out.Reading)
		return
	}
	fmt.Printf("%s: %s\n", target, out.Reading)
}

func printNames(cfg *config.Config) error {
	names := cfg.Names()
	if len(names) == 0 {
		fmt.Println("no aliases or groups configured")
		return nil
	}
	for _, name := range names {
		if id, ok := cfg.Aliases[name]; ok {
			fmt.Printf("%-20s node %d\n", name, id)
			continue
		}
		ids := make([]string, len(cfg.Groups[name]))
		for i, id := range cfg.Groups[name] {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Printf("%-20s nodes %s\n", name, strings.Join(ids, ","))
	}
	return nil
}
