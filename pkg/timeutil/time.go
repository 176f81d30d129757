// Package timeutil keeps every timestamp the service produces in UTC.
package timeutil

import "time"

// Clock returns the current time. Components take one so tests can pin it.
type Clock func() time.Time

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// Fixed returns a Clock that always reports t
func Fixed(t time.Time) Clock {
	t = t.UTC()
	return func() time.Time { return t }
}

// ParseRFC3339 parses an RFC 3339 timestamp and returns it in UTC
func ParseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
