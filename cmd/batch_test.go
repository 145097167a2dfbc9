// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"

	"github.com/Thermoquad/vrctl/pkg/config"
	"github.com/Thermoquad/vrctl/pkg/metrics"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	"github.com/Thermoquad/vrctl/pkg/vrc/vrctest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Aliases = map[string]int{"porch": 3}
	cfg.Groups = map[string][]int{"downstairs": {4, 5}}
	return cfg
}

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps(testConfig(), []string{
		"porch", "on",
		"Downstairs", "level", "128",
		"all", "scene", "2",
		"g7", "off",
	})
	require.NoError(t, err)
	require.Len(t, steps, 4)

	assert.Equal(t, []vrc.Target{vrc.Node(3)}, steps[0].targets)
	assert.Equal(t, vrc.Command{Kind: vrc.KindOn}, steps[0].command)

	assert.Equal(t, []vrc.Target{vrc.Node(4), vrc.Node(5)}, steps[1].targets)
	assert.Equal(t, vrc.Command{Kind: vrc.KindLevel, Arg: 128}, steps[1].command)

	assert.Equal(t, []vrc.Target{vrc.TargetAll}, steps[2].targets)
	assert.Equal(t, vrc.Command{Kind: vrc.KindScene, Arg: 2}, steps[2].command)

	assert.Equal(t, []vrc.Target{vrc.Group(7)}, steps[3].targets)
}

func TestParseSteps_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing command", []string{"3"}, "command for node '3' was not specified"},
		{"bad command", []string{"3", "explode"}, "bad command 'explode'"},
		{"missing argument", []string{"3", "level"}, "level requires an argument"},
		{"level out of range", []string{"3", "level", "300"}, "brightness level"},
		{"status on all", []string{"all", "status"}, "can't status all"},
		{"query through group alias", []string{"downstairs", "temp"}, ""},
		{"unknown node", []string{"attic", "on"}, "node ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSteps(testConfig(), tt.args)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"<E000", "ok"},
		{"<E002", "error 2"},
		{"<X000", "command accepted"},
		{"<X005", "command failed (5)"},
		{"<N003", "node 3"},
		{"<N003L045", "node 3 level 45"},
		{"<N003:049,005,001,042,002,154", "node 3 temperature 66.6F"},
		{"<N006:064,003,002", "node 6 mode cool"},
		{"<A001B002", "A001 B002"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r, err := vrc.ParseResponse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, describe(r))
		})
	}
}

func TestNodeFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		node  string
		ok    bool
	}{
		{"vrctl/porch/set", "porch", true},
		{"vrctl/3/set", "3", true},
		{"vrctl/porch/state", "", false},
		{"other/porch/set", "", false},
		{"vrctl//set", "", false},
		{"vrctl/a/b/set", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			node, ok := nodeFromTopic("vrctl", tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.node, node)
		})
	}
}

func TestBridgeRun_RejectsBeforeSending(t *testing.T) {
	// No controller: every case must fail before the link is used.
	b := &bridge{cfg: testConfig()}

	tests := []struct {
		name string
		job  bridgeJob
		want string
	}{
		{"unknown node", bridgeJob{node: "attic", payload: "on"}, "error: "},
		{"bad payload", bridgeJob{node: "porch", payload: "explode"}, "error: bad command 'explode'"},
		{"missing argument", bridgeJob{node: "porch", payload: "level"}, "error: level requires an argument"},
		{"status on all", bridgeJob{node: "all", payload: "status"}, "error: can't status all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := b.run(context.Background(), tt.job)
			require.NoError(t, err)
			assert.Contains(t, state, tt.want)
		})
	}
}

func TestBridgeRun_NegativeTemperature(t *testing.T) {
	port := vrctest.NewPort("")
	port.Reply("<E000\r\n")
	port.Reply("<X000\r\n<N003:049,005,001,042,255,206\r\n")
	engine := vrc.NewEngine(vrc.NewLink(port, zerolog.Nop()))

	b := &bridge{
		cfg:     testConfig(),
		ctrl:    vrc.NewController(engine, zerolog.Nop()),
		metrics: metrics.New(),
	}

	state, err := b.run(context.Background(), bridgeJob{node: "porch", payload: "temp"})
	require.NoError(t, err)
	assert.Equal(t, "-5.0F", state)
}

func TestBridgeRun_Rejected(t *testing.T) {
	port := vrctest.NewPort("")
	port.Reply("<E000\r\n")
	port.Reply("<X007\r\n")
	engine := vrc.NewEngine(vrc.NewLink(port, zerolog.Nop()))

	b := &bridge{
		cfg:     testConfig(),
		ctrl:    vrc.NewController(engine, zerolog.Nop()),
		metrics: metrics.New(),
	}

	state, err := b.run(context.Background(), bridgeJob{node: "porch", payload: "on"})
	require.NoError(t, err)
	assert.Equal(t, "error: X007", state)
}
