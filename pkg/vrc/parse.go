// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vrc

import (
	"math"

	"github.com/pkg/errors"
)

// ParseUint parses an unsigned decimal digit run. maxLen limits the number
// of digits (0 = unlimited) and maxVal the value (0 = unlimited). Values
// above maxVal are an error, never clamped.
func ParseUint(s string, maxLen int, name string, maxVal int) (int, error) {
	if s == "" {
		return 0, errors.Errorf("empty %s", name)
	}
	if maxLen != 0 && len(s) > maxLen {
		return 0, errors.Errorf("invalid %s '%s': more than %d digits", name, s, maxLen)
	}

	limit := maxVal
	if limit == 0 {
		limit = math.MaxInt32
	}

	ret := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, errors.Errorf("invalid %s '%s'", name, s)
		}
		ret = ret*10 + int(c-'0')
		if ret > limit {
			if maxVal == 0 {
				return 0, errors.Errorf("%s '%s' out of range", name, s)
			}
			return 0, errors.Errorf("%s must be at most %d", name, maxVal)
		}
	}
	return ret, nil
}
