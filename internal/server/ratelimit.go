package server

import (
	"time"

	"lan_presence/internal/dataType"
)

const limiterShards = 64

// updateLimiter caps presence updates per peer address over one or more
// sliding windows. A nil limiter allows everything.
type updateLimiter struct {
	limits  map[int64]int64
	longest int64
	counter *dataType.WindowCounter
}

func newUpdateLimiter(limits map[int64]int64) *updateLimiter {
	if len(limits) == 0 {
		return nil
	}
	var longest int64
	for window := range limits {
		if window > longest {
			longest = window
		}
	}
	return &updateLimiter{
		limits:  limits,
		longest: longest,
		counter: dataType.NewWindowCounter(limiterShards, longest),
	}
}

// allow counts one update for peer and reports whether every window is
// still within its limit.
func (l *updateLimiter) allow(peer string) bool {
	if l == nil {
		return true
	}
	l.counter.Add(peer, 1)
	for window, limit := range l.limits {
		if l.counter.Sum(peer, window) > limit {
			return false
		}
	}
	return true
}

func (l *updateLimiter) retryAfter() int64 {
	if l == nil {
		return 0
	}
	shortest := l.longest
	for window := range l.limits {
		if window < shortest {
			shortest = window
		}
	}
	return shortest
}

func (l *updateLimiter) start(stopCh <-chan struct{}) {
	if l == nil {
		return
	}
	go dataType.StartWindowCounterGC(l.counter, time.Minute, stopCh)
}
