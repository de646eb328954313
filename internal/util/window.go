package util

import (
	"fmt"
	"time"
)

// InWindow reports whether now falls inside the daily [start, end] window,
// both given as HH:MM in tz (now's location when tz is empty). A missing
// bound leaves that side open; a window whose end precedes its start spans
// midnight.
func InWindow(now time.Time, start, end, tz string) (bool, error) {
	if start == "" && end == "" {
		return true, nil
	}
	loc := now.Location()
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return false, fmt.Errorf("invalid timezone: %w", err)
		}
		loc = l
	}
	from, err := minuteOfDay(start, 0)
	if err != nil {
		return false, fmt.Errorf("invalid window start: %w", err)
	}
	to, err := minuteOfDay(end, 24*60-1)
	if err != nil {
		return false, fmt.Errorf("invalid window end: %w", err)
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	if from <= to {
		return cur >= from && cur <= to, nil
	}
	return cur >= from || cur <= to, nil
}

func minuteOfDay(v string, open int) (int, error) {
	if v == "" {
		return open, nil
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
