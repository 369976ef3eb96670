// Package calendar implements the date arithmetic used by installment schedules.
//
// Civil dates are represented as time.Time at midnight UTC.
package calendar

import (
	"fmt"
	"strings"
	"time"
)

const Layout = "2006-01-02"

const day = 24 * time.Hour

// Date builds a civil date.
func Date(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// Civil drops the clock part of t, keeping the date as seen in t's location.
func Civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths moves a civil date n months forward keeping the day of month.
// Days past the end of the target month clamp to its last day, so
// 2024-01-31 + 1 month is 2024-02-29.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	mm := total % 12
	if mm < 0 {
		mm += 12
		y--
	}
	month := time.Month(mm + 1)
	if last := DaysIn(y, month); d > last {
		d = last
	}
	return Date(y, month, d)
}

// CeilDays counts the civil days from due up to asOf's date, plus one when
// asOf is past its own midnight, so a started day counts as a whole day. It
// is zero when asOf is not after midnight of due in asOf's location. Days are
// counted on the calendar, so DST shifts do not change the result.
func CeilDays(due, asOf time.Time) int {
	days := int(Civil(asOf).Sub(Civil(due)) / day)
	y, m, d := asOf.Date()
	if asOf.After(time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())) {
		days++
	}
	if days < 0 {
		return 0
	}
	return days
}

// Before reports whether the civil date due falls before asOf.
func Before(due, asOf time.Time) bool {
	return CeilDays(due, asOf) > 0
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the civil date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(Layout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return Civil(t), nil
}

// FormatISO renders a civil date as YYYY-MM-DD.
func FormatISO(t time.Time) string {
	return t.Format(Layout)
}
