package contract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the layout accepted for calendar dates such as the cutoff date.
const DateFormat = "2006-01-02"

// humanDurationRe captures "N [units]" and the compact "Nd" / "Nw" forms.
var humanDurationRe = regexp.MustCompile(`^(\d+)\s*(d|w|day|days|week|weeks|hour|hours|minute|minutes)$`)

// ParseDuration converts strings like "15m", "6h", "14d" or "2 weeks" into a time.Duration.
// Go's time.ParseDuration is tried first. Zero or negative durations are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, errors.New("duration must be positive")
		}
		return d, nil
	}

	matches := humanDurationRe.FindStringSubmatch(strings.ToLower(s))
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	value, _ := strconv.Atoi(matches[1])
	var unit time.Duration
	switch matches[2] {
	case "d", "day", "days":
		unit = 24 * time.Hour
	case "w", "week", "weeks":
		unit = 7 * 24 * time.Hour
	case "hour", "hours":
		unit = time.Hour
	default:
		unit = time.Minute
	}

	if value <= 0 {
		return 0, errors.New("duration must be positive")
	}
	if time.Duration(value) > math.MaxInt64/unit {
		return 0, fmt.Errorf("duration out of range: %s", s)
	}
	return time.Duration(value) * unit, nil
}

// ParseClock parses an "HH:MM" wall clock time.
func ParseClock(s string) (hour, minute uint, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q, expected HH:MM: %w", s, err)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

// ParseCutoffDate parses a YYYY-MM-DD or RFC3339 date into UTC.
// An empty string yields the zero time, meaning no cutoff.
func ParseCutoffDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateFormat, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cutoff date %q, expected %s or RFC3339", s, DateFormat)
	}
	return t.UTC(), nil
}

// NextUTCMidnight returns the first UTC midnight strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// StartOfUTCMonth returns the first instant of t's UTC month.
func StartOfUTCMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
