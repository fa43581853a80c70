package session

import "time"

// Clock abstracts time.Now so tests can drive expiry deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used in production.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
