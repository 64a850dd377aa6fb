package periods

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// ReferenceZoneName is the business time zone for edit windows.
const ReferenceZoneName = "Australia/Melbourne"

// EditWindowDays is the number of days at the start of the following month during which
// a period accepts submissions.
const EditWindowDays = 7

var referenceZone = mustLoadZone(ReferenceZoneName)

func mustLoadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("periods: load zone %s: %v", name, err))
	}
	return loc
}

// ReferenceZone returns the location that edit windows are evaluated in.
func ReferenceZone() *time.Location { return referenceZone }

// WindowFor returns the half-open edit window [start, end) for the period.
// start is local midnight on day 1 of the following month and end is local
// midnight on day 8, both in the reference zone.
func WindowFor(c Code) (start, end time.Time) {
	next := c.Next()
	start = time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, referenceZone)
	end = time.Date(next.Year(), next.Month(), 1+EditWindowDays, 0, 0, 0, 0, referenceZone)
	return start, end
}

// EditableAt reports whether now falls inside the period's edit window.
func (c Code) EditableAt(now time.Time) bool {
	if c.IsZero() {
		return false
	}
	start, end := WindowFor(c)
	return !now.Before(start) && now.Before(end)
}

// IsWithinEditWindow reports whether the period identified by code accepts edits at now.
// Malformed codes are never editable.
func IsWithinEditWindow(code string, now time.Time) bool {
	c, err := ParseCode(code)
	if err != nil {
		return false
	}
	return c.EditableAt(now)
}

// PreviousCode returns the month before the one containing now in the reference zone.
func PreviousCode(now time.Time) Code {
	local := now.In(referenceZone)
	return Code{year: local.Year(), month: local.Month()}.Prev()
}

// EditableCode returns the period whose edit window contains now, if any.
func EditableCode(now time.Time) (Code, bool) {
	prev := PreviousCode(now)
	if prev.EditableAt(now) {
		return prev, true
	}
	return Code{}, false
}
