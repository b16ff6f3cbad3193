// Package timeutil provides academic calendar helpers.
//
// An academic year runs from its start month to the month before it one
// calendar year later, and is labelled by the calendar year in which it
// ends: with a September start, 2024-09-01 through 2025-08-31 is academic
// year 2025, written "2024-2025".
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStartMonth is the month academic years start in.
const DefaultStartMonth = time.September

// Calendar describes when academic years start and in which timezone
// dates are read.
type Calendar struct {
	StartMonth time.Month
	Location   *time.Location
}

// DefaultCalendar starts years in September and reads dates in UTC.
func DefaultCalendar() Calendar {
	return Calendar{StartMonth: DefaultStartMonth, Location: time.UTC}
}

func (c Calendar) normalized() Calendar {
	if c.StartMonth < time.January || c.StartMonth > time.December {
		c.StartMonth = DefaultStartMonth
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// AcademicYear returns the academic year t falls in.
func (c Calendar) AcademicYear(t time.Time) int {
	c = c.normalized()
	local := t.In(c.Location)
	if c.StartMonth == time.January || local.Month() < c.StartMonth {
		return local.Year()
	}
	return local.Year() + 1
}

// Bounds returns the first instant of academic year year and the first
// instant of the next one.
func (c Calendar) Bounds(year int) (start, end time.Time) {
	c = c.normalized()
	startYear := year - 1
	if c.StartMonth == time.January {
		startYear = year
	}
	start = time.Date(startYear, c.StartMonth, 1, 0, 0, 0, 0, c.Location)
	return start, start.AddDate(1, 0, 0)
}

// Contains reports whether t falls in academic year year.
func (c Calendar) Contains(year int, t time.Time) bool {
	start, end := c.Bounds(year)
	return !t.Before(start) && t.Before(end)
}

// AcademicYear returns the academic year of t in the default calendar.
func AcademicYear(t time.Time) int {
	return DefaultCalendar().AcademicYear(t)
}

// FormatAcademicYear renders year as "2024-2025".
func FormatAcademicYear(year int) string {
	return fmt.Sprintf("%d-%d", year-1, year)
}

// ParseAcademicYear accepts "2025" or "2024-2025" and returns 2025. The two
// halves of a range must be consecutive years.
func ParseAcademicYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	first, second, isRange := strings.Cut(s, "-")
	if !isRange {
		year, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("academic year %q: not a number", s)
		}
		return year, nil
	}

	from, err1 := strconv.Atoi(strings.TrimSpace(first))
	to, err2 := strconv.Atoi(strings.TrimSpace(second))
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("academic year %q: expected YYYY-YYYY", s)
	}
	if to != from+1 {
		return 0, fmt.Errorf("academic year %q: years must be consecutive", s)
	}
	return to, nil
}
