package presence

import "time"

// Clock returns the lastSeen value stamped on a presence update.
type Clock func() int64

// CompositeClock stamps wall-clock milliseconds scaled to nanoseconds with
// the low six digits taken from the process monotonic clock:
//
//	wallMillis*1_000_000 + monotonicNanos%1_000_000
//
// Listeners already on the LAN compare lastSeen in this form.
func CompositeClock() Clock {
	base := time.Now()
	return func() int64 {
		now := time.Now()
		mono := now.Sub(base).Nanoseconds()
		return now.UnixMilli()*1_000_000 + mono%1_000_000
	}
}

// FixedClock always returns v.
func FixedClock(v int64) Clock {
	return func() int64 { return v }
}
