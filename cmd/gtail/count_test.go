package main

import (
	"math"
	"testing"
)

func TestParseCount(t *testing.T) {
	cases := []struct {
		arg       string
		n         uint64
		fromStart bool
	}{
		{"10", 10, false},
		{"-10", 10, false},
		{"0", 0, false},
		{"+1", 0, true},
		{"+0", 0, true},
		{"+25", 24, true},
		{"1b", 512, false},
		{"2K", 2048, false},
		{"2k", 2048, false},
		{"1kB", 1000, false},
		{"3KiB", 3072, false},
		{"1M", 1 << 20, false},
		{"1MB", 1000000, false},
		{"1G", 1 << 30, false},
		{"99999999999999999999", math.MaxUint64, false},
		{"1Y", math.MaxUint64, false},
		{"20E", math.MaxUint64, false},
		// Saturated from-start counts keep the skip-everything value
		// instead of being decremented into a near-maximum position.
		{"+99999999999999999999", math.MaxUint64, true},
		{"+1Y", math.MaxUint64, true},
	}
	for _, tc := range cases {
		n, fromStart, err := parseCount(tc.arg)
		if err != nil {
			t.Fatalf("%q: %v", tc.arg, err)
		}
		if n != tc.n || fromStart != tc.fromStart {
			t.Fatalf("%q: got (%d, %v), want (%d, %v)", tc.arg, n, fromStart, tc.n, tc.fromStart)
		}
	}
}

func TestParseCountRejectsGarbage(t *testing.T) {
	for _, arg := range []string{"", "+", "-", "abc", "10Q2", "1kb", "--5", "0x10"} {
		if _, _, err := parseCount(arg); err == nil {
			t.Fatalf("%q: expected an error", arg)
		}
	}
}
