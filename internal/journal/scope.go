// Package journal defines the shared value types of the duty-status event
// journal: scopes, hashable record fields, tamper evidence, audit metadata,
// and the closed enumerations the rest of the system switches over.
package journal

import (
	"errors"
	"fmt"
	"time"
)

// Sequence identifier bounds. Identifiers are scoped to one (device, log
// date) pair and are never valid outside this range.
const (
	MinSequenceID = 1
	MaxSequenceID = 65535
)

// Scope validation errors.
var (
	ErrEmptyDeviceID  = errors.New("device ID cannot be empty")
	ErrInvalidLogDate = errors.New("log date must be in YYYY-MM-DD format")
)

// logDateLayout is the wire encoding of a scope's calendar day.
const logDateLayout = "2006-01-02"

// Scope identifies one independent counter domain: a single device on a
// single calendar day. The day is expressed in the driver's home terminal
// timezone, not UTC, so two drivers in different timezones can be on
// different log dates at the same instant.
type Scope struct {
	DeviceID string
	LogDate  string // YYYY-MM-DD in the owning driver's home timezone
}

// Validate checks that the scope carries a device ID and a parseable log date.
func (s Scope) Validate() error {
	if s.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if _, err := s.Date(); err != nil {
		return err
	}
	return nil
}

// Date returns the scope's log date as a structured calendar date.
func (s Scope) Date() (CalendarDate, error) {
	return ParseCalendarDate(s.LogDate)
}

// String renders the scope as "deviceID/logDate" for log output and keys.
func (s Scope) String() string {
	return s.DeviceID + "/" + s.LogDate
}

// CalendarDate is a timezone-free calendar day. Ordering comparisons use the
// structured fields, never the string encoding.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseCalendarDate parses a YYYY-MM-DD string into a CalendarDate.
func ParseCalendarDate(s string) (CalendarDate, error) {
	t, err := time.Parse(logDateLayout, s)
	if err != nil {
		return CalendarDate{}, fmt.Errorf("%w: %q", ErrInvalidLogDate, s)
	}
	return CalendarDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// Compare returns -1, 0, or 1 ordering d against other chronologically.
func (d CalendarDate) Compare(other CalendarDate) int {
	if d.Year != other.Year {
		if d.Year < other.Year {
			return -1
		}
		return 1
	}
	if d.Month != other.Month {
		if d.Month < other.Month {
			return -1
		}
		return 1
	}
	if d.Day != other.Day {
		if d.Day < other.Day {
			return -1
		}
		return 1
	}
	return 0
}

// String renders the date in YYYY-MM-DD format.
func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// SequenceState is the per-scope counter. It is owned and exclusively
// mutated by the sequence allocator; no other component creates one.
// LastIssuedID == 0 means the scope has never issued an identifier.
type SequenceState struct {
	Scope        Scope
	LastIssuedID uint16
	LastIssuedAt time.Time

	// WrapAroundCount must stay 0 in normal operation. A nonzero value
	// marks the scope as anomalous: issuance halts until compliance
	// review intervenes.
	WrapAroundCount uint32
}

// Exhausted reports whether the scope can issue no further identifiers.
func (s SequenceState) Exhausted() bool {
	return s.LastIssuedID == MaxSequenceID
}
