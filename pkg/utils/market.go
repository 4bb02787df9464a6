package utils

import (
	"time"
)

// KoreaLocation is the timezone for the Korea Exchange.
var KoreaLocation *time.Location

func init() {
	var err error
	KoreaLocation, err = time.LoadLocation("Asia/Seoul")
	if err != nil {
		// Fallback to UTC+9
		KoreaLocation = time.FixedZone("KST", 9*60*60)
	}
}

// DateLayout is the calendar-date format used for equity curves and trade logs.
const DateLayout = "2006-01-02"

// Calendar dates are always those of the exchange: a timestamp is converted
// to KoreaLocation before its date is taken, whatever location it carries.

// DateKey returns the exchange calendar date of t as a sortable string.
func DateKey(t time.Time) string {
	return t.In(KoreaLocation).Format(DateLayout)
}

// SameDate reports whether a and b fall on the same exchange calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.In(KoreaLocation).Date()
	by, bm, bd := b.In(KoreaLocation).Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay returns midnight KST of t's exchange calendar date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(KoreaLocation).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, KoreaLocation)
}

// ParseDate parses a YYYY-MM-DD or YYYYMMDD date in the exchange timezone.
func ParseDate(s string) (time.Time, error) {
	layout := DateLayout
	if len(s) == 8 {
		layout = "20060102"
	}
	return time.ParseInLocation(layout, s, KoreaLocation)
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// EndOfDay returns the last representable instant of t's calendar date.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
