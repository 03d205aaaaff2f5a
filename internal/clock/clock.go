// Package clock abstracts time for components that need to be tested
// against fixed instants.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed implements Clock returning a constant instant. Test helper.
type Fixed struct {
	At time.Time
}

// Now returns the configured instant.
func (f Fixed) Now() time.Time {
	return f.At
}
