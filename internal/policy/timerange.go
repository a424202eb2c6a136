package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TimeRange struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

func ParseTimeRange(value string) (TimeRange, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return TimeRange{}, fmt.Errorf("time range %q: missing '-'", value)
	}
	sh, sm, err := parseClock(start)
	if err != nil {
		return TimeRange{}, fmt.Errorf("time range %q: %w", value, err)
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return TimeRange{}, fmt.Errorf("time range %q: %w", value, err)
	}
	return TimeRange{StartHour: sh, StartMinute: sm, EndHour: eh, EndMinute: em}, nil
}

func parseClock(value string) (int, int, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("clock %q: missing ':'", value)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: %w", value, err)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: %w", value, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("clock %q out of range", value)
	}
	return h, m, nil
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.StartHour, r.StartMinute, r.EndHour, r.EndMinute)
}

// ContainsTimestamp reports whether ts, seen on the wall clock of loc, falls
// inside the range. Start is inclusive from the first instant of its minute,
// end is inclusive to the last instant of its minute.
func (r TimeRange) ContainsTimestamp(ts time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, r.StartHour, r.StartMinute, 0, 0, loc)
	end := time.Date(y, m, d, r.EndHour, r.EndMinute, 59, 999999999, loc)

	// overnight, e.g. 22:00-02:00
	if start.After(end) {
		if start.After(local) {
			start = start.AddDate(0, 0, -1)
		} else {
			end = end.AddDate(0, 0, 1)
		}
	}
	return !local.Before(start) && !local.After(end)
}
