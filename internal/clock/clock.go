// Package clock reads CLOCK_MONOTONIC, the time base shared by frame
// producers, the pacer and the display back ends.
package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// Now returns the monotonic clock as a duration since boot.
func Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return FromTimespec(ts.Unix())
}

// FromTimespec converts a seconds/nanoseconds pair.
func FromTimespec(sec, nsec int64) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

// FromTimeval converts a seconds/microseconds pair as returned by vblank events.
func FromTimeval(sec, usec int64) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}

// Source returns the current monotonic time. Tests substitute a fake.
type Source func() time.Duration
