// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package timeutil parses the interval suffix grammar used by the `expire`
// query parameter: a bare integer of seconds, or an integer followed by one
// of s/m/h/d.
package timeutil

import "strconv"

var unitSeconds = map[byte]int{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
}

// ParseInterval parses s into a number of seconds. It returns (0, false) for
// anything that isn't a non-negative integer, optionally suffixed by one of
// s/m/h/d — including a negative number, an unknown suffix, or garbage.
func ParseInterval(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	mult := 1
	digits := s
	last := s[len(s)-1]
	if m, ok := unitSeconds[last]; ok {
		mult = m
		digits = s[:len(s)-1]
	}
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}
