package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// multipliers maps count suffixes to byte multipliers. Lowercase single
// letters are accepted alongside their uppercase forms.
var multipliers = map[string]uint64{
	"":    1,
	"b":   512,
	"kB":  1000,
	"K":   1024,
	"k":   1024,
	"KiB": 1024,
	"MB":  1000 * 1000,
	"M":   1 << 20,
	"m":   1 << 20,
	"MiB": 1 << 20,
	"GB":  1000 * 1000 * 1000,
	"G":   1 << 30,
	"GiB": 1 << 30,
	"TB":  1000 * 1000 * 1000 * 1000,
	"T":   1 << 40,
	"TiB": 1 << 40,
	"PB":  1000 * 1000 * 1000 * 1000 * 1000,
	"P":   1 << 50,
	"PiB": 1 << 50,
	"EB":  1000 * 1000 * 1000 * 1000 * 1000 * 1000,
	"E":   1 << 60,
	"EiB": 1 << 60,
}

// saturating are suffixes whose multiplier exceeds uint64 range; any
// nonzero number with one of these pins the count at the maximum.
var saturating = map[string]bool{
	"ZB": true, "Z": true, "ZiB": true,
	"YB": true, "Y": true, "YiB": true,
	"RB": true, "R": true, "RiB": true,
	"QB": true, "Q": true, "QiB": true,
}

// parseCount parses an -n/-c argument: an optional +/- sign, digits, and
// an optional size suffix. A leading + selects counting from the start,
// in which case the returned count is the number of units to skip
// (item N means skip N-1; +0 is treated as +1). Out-of-range values
// saturate at the maximum rather than failing.
func parseCount(arg string) (n uint64, fromStart bool, err error) {
	s := arg
	switch {
	case len(s) > 0 && s[0] == '+':
		fromStart = true
		s = s[1:]
	case len(s) > 0 && s[0] == '-':
		s = s[1:]
	}

	i := 0
	for i < len(s) && '0' <= s[i] && s[i] <= '9' {
		i++
	}
	digits, suffix := s[:i], s[i:]
	if digits == "" {
		return 0, false, fmt.Errorf("invalid number of units: %q", arg)
	}

	n, perr := strconv.ParseUint(digits, 10, 64)
	if perr != nil {
		if !errors.Is(perr, strconv.ErrRange) {
			return 0, false, fmt.Errorf("invalid number of units: %q", arg)
		}
		n = math.MaxUint64
	}

	switch mul, ok := multipliers[suffix]; {
	case ok:
		if mul > 1 && n > math.MaxUint64/mul {
			n = math.MaxUint64
		} else {
			n *= mul
		}
	case saturating[suffix]:
		if n > 0 {
			n = math.MaxUint64
		}
	default:
		return 0, false, fmt.Errorf("invalid number of units: %q", arg)
	}

	// The saturated value stays intact: it is the skip-everything
	// sentinel, not a countable position.
	if fromStart && n > 0 && n < math.MaxUint64 {
		n--
	}
	return n, fromStart, nil
}
