/*
Package calendar provides date-only arithmetic and business-day calculation.

PURPOSE:
  Leave is requested in whole calendar days. This package owns the date type
  used across the portal, the set of blocked dates (holidays, already-booked
  days), and the pure functions that decide which days count as working days.

KEY CONCEPTS:
  - Date: A calendar day with no time-of-day or zone component
  - Range: An inclusive [Start, End] span of dates
  - BlockedDateSet: Explicit dates excluded from selection (weekends are a
    fixed rule applied separately)
  - Holiday / HolidaySource: Location-scoped published holidays

USAGE:
  blocked := calendar.NewBlockedDateSet(calendar.NewDate(2025, time.March, 12))
  n := calendar.CountWorkingDays(mon, fri, blocked) // 4
  ok := calendar.IsRangeSelectable(mon, fri, blocked) // false

SEE ALSO:
  - workdays.go: CountWorkingDays, IsRangeSelectable
  - holiday.go: Holiday catalog and cached source
*/
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the wire and display format for dates.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - Calendar day, normalized to midnight UTC
// =============================================================================

// Date is a calendar day. The zero value is "no date".
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time-of-day of t, keeping the calendar day as seen in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.t.After(other.t) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.t.Before(other.t) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int              { return d.t.Year() }
func (d Date) Month() time.Month      { return d.t.Month() }
func (d Date) Day() int               { return d.t.Day() }
func (d Date) Weekday() time.Weekday  { return d.t.Weekday() }
func (d Date) IsZero() bool           { return d.t.IsZero() }
func (d Date) Time() time.Time        { return d.t }
func (d Date) String() string         { return d.t.Format(DateLayout) }
func (d Date) IsWeekend() bool {
	wd := d.t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DaysBetween returns the signed number of days from a to b.
func DaysBetween(a, b Date) int {
	return int(b.t.Sub(a.t).Hours() / 24)
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// RANGE - Inclusive span of dates
// =============================================================================

type Range struct {
	Start Date
	End   Date
}

func NewRange(start, end Date) Range {
	return Range{Start: start, End: end}
}

// Valid reports whether both ends are set and End is not before Start.
func (r Range) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.BeforeOrEqual(r.End)
}

// Len returns the number of calendar days in the range, 0 when inverted.
func (r Range) Len() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// Days lists every date in the range in order.
func (r Range) Days() []Date {
	n := r.Len()
	days := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, r.Start.AddDays(i))
	}
	return days
}

func (r Range) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

func (r Range) Overlaps(other Range) bool {
	return r.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(r.End)
}

func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}
