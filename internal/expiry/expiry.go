package expiry

import (
	"fmt"
	"time"
)

// DefaultYears is how long a freshly issued card stays valid.
const DefaultYears = 4

// Policy computes card expiry dates in a fixed location.
type Policy struct {
	Years int
	Loc   *time.Location
}

func NewPolicy(years int, tz string) (Policy, error) {
	if years <= 0 {
		years = DefaultYears
	}
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Policy{}, fmt.Errorf("load location %q: %w", tz, err)
		}
		loc = l
	}
	return Policy{Years: years, Loc: loc}, nil
}

func (p Policy) location() *time.Location {
	if p.Loc == nil {
		return time.UTC
	}
	return p.Loc
}

// Date returns the calendar day, at midnight, on which a card issued at issue
// expires.
func (p Policy) Date(issue time.Time) time.Time {
	years := p.Years
	if years <= 0 {
		years = DefaultYears
	}
	t := issue.In(p.location()).AddDate(years, 0, 0)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location())
}

// Today returns midnight of at's calendar day in the policy location.
func (p Policy) Today(at time.Time) time.Time {
	t := at.In(p.location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location())
}

// IsExpired reports whether at is past the last instant of the expiry day.
// Only the calendar date of expiryDate is used.
func (p Policy) IsExpired(expiryDate, at time.Time) bool {
	day := time.Date(expiryDate.Year(), expiryDate.Month(), expiryDate.Day(), 0, 0, 0, 0, p.location())
	return at.After(EndOfDay(day))
}

// EndOfDay returns 1ns before the next midnight in t's location.
func EndOfDay(t time.Time) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// CardFace returns the MM/YY imprint for an expiry date.
func CardFace(expiryDate time.Time) string {
	return fmt.Sprintf("%02d/%02d", int(expiryDate.Month()), expiryDate.Year()%100)
}
