package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HoursToDegrees converts right ascension hours to degrees.
func HoursToDegrees(h float64) float64 {
	return h * 15
}

// ParseSexagesimal parses "DD MM SS.s", "DD:MM:SS.s" or a plain decimal
// value. A leading minus applies to the whole value, including "-00 30 00".
func ParseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty sexagesimal value")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ':' || r == '\t'
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("malformed sexagesimal value %q", s)
	}

	var total float64
	div := 1.0
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed sexagesimal value %q: %w", s, err)
		}
		if v < 0 || (i > 0 && v >= 60) {
			return 0, fmt.Errorf("sexagesimal component %q out of range", f)
		}
		total += v / div
		div *= 60
	}
	return sign * total, nil
}

// NormalizeDegrees maps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
