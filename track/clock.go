// ABOUTME: Injectable clock abstraction so lifecycle timers run on simulated time in tests.
// ABOUTME: Provides the real implementation over the time package and a manual fake for tests.
package track

import "time"

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

// Clock abstracts time for the tracker and the poll coordinator.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run after d on an unspecified goroutine.
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock delegates to the time package.
type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
