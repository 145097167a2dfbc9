// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"fmt"
	"strings"
)

// Target is what a command is addressed to: one node, a stored group, or
// every node.
type Target struct {
	ID    int
	All   bool
	Group bool
}

// TargetAll addresses every node.
var TargetAll = Target{All: true}

// Node returns a single-node target.
func Node(id int) Target {
	return Target{ID: id}
}

// Group returns a stored-group target.
func Group(id int) Target {
	return Target{ID: id, Group: true}
}

// ParseTarget accepts "all", a decimal node id, or g<n>/G<n> for a group.
func ParseTarget(s string) (Target, error) {
	if strings.EqualFold(s, "all") {
		return TargetAll, nil
	}
	if len(s) > 1 && (s[0] == 'g' || s[0] == 'G') {
		id, err := ParseUint(s[1:], 0, "group ID", MaxGroupID)
		if err != nil {
			return Target{}, err
		}
		return Group(id), nil
	}
	id, err := ParseUint(s, 0, "node ID", MaxNodeID)
	if err != nil {
		return Target{}, err
	}
	return Node(id), nil
}

// IsSingle reports whether the target is one node, which is required for
// queries that wait on a node report.
func (t Target) IsSingle() bool {
	return !t.All && !t.Group
}

// address is the part of a command that selects the target:
// "N003", "G007" or "N," for all nodes.
func (t Target) address() string {
	switch {
	case t.All:
		return "N,"
	case t.Group:
		return fmt.Sprintf("G%03d", t.ID)
	default:
		return fmt.Sprintf("N%03d", t.ID)
	}
}

func (t Target) String() string {
	switch {
	case t.All:
		return "all"
	case t.Group:
		return fmt.Sprintf("group %d", t.ID)
	default:
		return fmt.Sprintf("node %d", t.ID)
	}
}
