// Package system is the wall clock behind harvest.Clock. Manifest timestamps
// and event times are always UTC so runs compare across hosts.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New returns the clock.
func New() Clock {
	return Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
