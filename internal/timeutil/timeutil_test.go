// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package timeutil

import "testing"

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"350", 350, true},
		{"20000s", 20000, true},
		{"10m", 600, true},
		{"2h", 7200, true},
		{"10d", 864000, true},
		{"0", 0, true},
		{"0m", 0, true},
		{"-3", 0, false},
		{"10u", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseInterval(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseInterval(%q) = (%d, %v), want (%d, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
