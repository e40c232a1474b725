// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package date contains various date-related utilities
package date

import "time"

// DayLayout is the layout of a day directory name.
const DayLayout = "2006-01-02"

// DayBoundary returns start and end of the provided day.
func DayBoundary(t time.Time) (time.Time, time.Time) {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()),
		time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, -1, t.Location())
}

// QuarantineDay returns the name of the day directory a quarantined object created at now
// belongs to: the UTC day of now shifted by validity.
func QuarantineDay(now time.Time, validity time.Duration) string {
	start, _ := DayBoundary(now.UTC())
	return start.Add(validity).Format(DayLayout)
}

// ParseDay parses a day directory name.
func ParseDay(day string) (time.Time, error) {
	return time.Parse(DayLayout, day)
}
