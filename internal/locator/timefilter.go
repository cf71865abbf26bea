package locator

import (
	"fmt"
	"strings"
	"time"

	"void/internal/record"
)

// TimeFilter selects observations by DATE-OBS. The zero value accepts all.
type TimeFilter struct {
	After  time.Time // exclusive, ignored when zero
	Before time.Time // exclusive, ignored when zero
}

// ParseTimeFilter parses "<T", ">T" or "[T1,T2]". Bounds are exclusive and a
// bare date means midnight UTC. An empty string yields the accept-all filter.
func ParseTimeFilter(s string) (TimeFilter, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return TimeFilter{}, nil
	case strings.HasPrefix(s, "<"):
		t, err := record.ParseDateObs(s[1:])
		if err != nil {
			return TimeFilter{}, fmt.Errorf("time filter %q: %w", s, err)
		}
		return TimeFilter{Before: t}, nil
	case strings.HasPrefix(s, ">"):
		t, err := record.ParseDateObs(s[1:])
		if err != nil {
			return TimeFilter{}, fmt.Errorf("time filter %q: %w", s, err)
		}
		return TimeFilter{After: t}, nil
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		first, last, ok := strings.Cut(s[1:len(s)-1], ",")
		if !ok {
			return TimeFilter{}, fmt.Errorf("time filter %q: expected [T1,T2]", s)
		}
		t1, err := record.ParseDateObs(strings.TrimSpace(first))
		if err != nil {
			return TimeFilter{}, fmt.Errorf("time filter %q: %w", s, err)
		}
		t2, err := record.ParseDateObs(strings.TrimSpace(last))
		if err != nil {
			return TimeFilter{}, fmt.Errorf("time filter %q: %w", s, err)
		}
		if !t1.Before(t2) {
			return TimeFilter{}, fmt.Errorf("time filter %q: empty range", s)
		}
		return TimeFilter{After: t1, Before: t2}, nil
	default:
		return TimeFilter{}, fmt.Errorf("time filter %q: expected <T, >T or [T1,T2]", s)
	}
}

// IsZero reports whether the filter accepts every time.
func (f TimeFilter) IsZero() bool {
	return f.After.IsZero() && f.Before.IsZero()
}

// Match reports whether t lies strictly inside the filter bounds.
func (f TimeFilter) Match(t time.Time) bool {
	if !f.After.IsZero() && !t.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !t.Before(f.Before) {
		return false
	}
	return true
}
