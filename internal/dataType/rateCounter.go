package dataType

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type slot struct {
	second int64
	count  int64
}

type window struct {
	slots       []slot
	lastUpdated int64
}

func (w *window) add(now int64, n int64) {
	idx := now % int64(len(w.slots))
	if w.slots[idx].second != now {
		w.slots[idx] = slot{second: now, count: n}
	} else {
		w.slots[idx].count += n
	}
	w.lastUpdated = now
}

func (w *window) sum(lastN int64, now int64) int64 {
	size := int64(len(w.slots))
	if lastN > size {
		lastN = size
	}
	var total int64
	for sec := now - lastN + 1; sec <= now; sec++ {
		s := w.slots[sec%size]
		if s.second == sec {
			total += s.count
		}
	}
	return total
}

type counterShard struct {
	mu      sync.Mutex
	windows map[uint64]*window
}

// WindowCounter counts events per key over a sliding window of whole
// seconds. Keys are spread over shards by xxhash so unrelated keys rarely
// contend on the same lock.
type WindowCounter struct {
	shards []*counterShard
	size   int64
	now    func() int64
}

// NewWindowCounter returns a counter able to answer queries about the last
// size seconds.
func NewWindowCounter(shardCount int, size int64) *WindowCounter {
	if shardCount < 1 {
		shardCount = 1
	}
	if size < 1 {
		size = 1
	}
	wc := &WindowCounter{
		shards: make([]*counterShard, shardCount),
		size:   size,
		now:    func() int64 { return time.Now().Unix() },
	}
	for i := range wc.shards {
		wc.shards[i] = &counterShard{windows: make(map[uint64]*window)}
	}
	return wc
}

func (wc *WindowCounter) shard(h uint64) *counterShard {
	return wc.shards[h%uint64(len(wc.shards))]
}

// Add records n events for key at the current second.
func (wc *WindowCounter) Add(key string, n int64) {
	h := xxhash.Sum64String(key)
	sh := wc.shard(h)
	now := wc.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[h]
	if !ok {
		w = &window{slots: make([]slot, wc.size)}
		sh.windows[h] = w
	}
	w.add(now, n)
}

// Sum returns the number of events for key in the last lastN seconds,
// including the current one.
func (wc *WindowCounter) Sum(key string, lastN int64) int64 {
	h := xxhash.Sum64String(key)
	sh := wc.shard(h)
	now := wc.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if w, ok := sh.windows[h]; ok {
		return w.sum(lastN, now)
	}
	return 0
}

// GC drops keys that have not been touched for a whole window.
func (wc *WindowCounter) GC() {
	threshold := wc.now() - wc.size
	for _, sh := range wc.shards {
		sh.mu.Lock()
		for h, w := range sh.windows {
			if w.lastUpdated < threshold {
				delete(sh.windows, h)
			}
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of tracked keys.
func (wc *WindowCounter) Len() int {
	n := 0
	for _, sh := range wc.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

func StartWindowCounterGC(wc *WindowCounter, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wc.GC()
		case <-stopCh:
			return
		}
	}
}
