// Package dateutil parses the date strings returned by the legacy regulation
// server and computes the relative date ranges used by section filters.
package dateutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LayoutBR is the dd/mm/yyyy layout the legacy server expects in requests.
const LayoutBR = "02/01/2006"

// datePattern matches the first ISO (yyyy-mm-dd) or Brazilian (dd/mm/yyyy or
// dd/mm/yy) date in a string. Surrounding text is tolerated, but the date
// must not run on into more digits, so "05/03/202" and "05/03/20245" do not
// match.
var datePattern = regexp.MustCompile(`(?:(\d{4})-(\d{2})-(\d{2})|(\d{2})/(\d{2})/(\d{4}|\d{2}))(?:\D|$)`)

// ParseDate extracts a calendar date from arbitrary text such as
// "Agendado para 05/03/2024 às 10:00" or "2024-03-05T10:00:00". Two-digit
// years are expanded by adding 2000. Dates that would roll over (31/02)
// are rejected. The returned time is midnight in the local time zone.
func ParseDate(text string) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}

	var ys, ms, ds string
	if m[1] != "" {
		ys, ms, ds = m[1], m[2], m[3]
	} else {
		ds, ms, ys = m[4], m[5], m[6]
	}

	year, err := strconv.Atoi(ys)
	if err != nil {
		return time.Time{}, false
	}
	if len(ys) == 2 {
		year += 2000
	}
	month, err := strconv.Atoi(ms)
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(ds)
	if err != nil {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

var sortableLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ParseSortable parses a value used only for ordering. Full timestamps keep
// their time of day; anything else falls back to ParseDate.
func ParseSortable(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range sortableLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, true
		}
	}
	return ParseDate(text)
}

// RelativeDate shifts now by offsetMonths calendar months. Day-of-month
// overflow normalises forward the way time.AddDate does (31 Jan + 1 month
// is 3 Mar, or 2 Mar in a leap year).
func RelativeDate(now time.Time, offsetMonths int) time.Time {
	return now.AddDate(0, offsetMonths, 0)
}

// CalculateRelativeDate is RelativeDate anchored at the current time.
func CalculateRelativeDate(offsetMonths int) time.Time {
	return RelativeDate(time.Now(), offsetMonths)
}

// FormatBR renders t as dd/mm/yyyy.
func FormatBR(t time.Time) string {
	return t.Format(LayoutBR)
}

// EndOfDay returns the last representable instant of t's calendar day
// (23:59:59.999).
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
