package core

import (
	"fmt"
	"time"
)

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateFmt)
}

// DateOnly returns a time.Time with only the date portion (midnight UTC).
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns every day from start to end inclusive, at day
// granularity. Returns nil when end precedes start.
func DaysBetween(start, end time.Time) []time.Time {
	s := DateOnly(start)
	e := DateOnly(end)
	if e.Before(s) {
		return nil
	}
	var days []time.Time
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// IsDateString reports whether s is a valid YYYY-MM-DD date.
func IsDateString(s string) bool {
	_, err := time.Parse(DateFmt, s)
	return err == nil
}
