package session

import (
	"runtime"
	"sync"
	"time"
)

const usageRingSize = 100

// UsageSample is one point-in-time resource reading of the orchestrator
// process itself.
type UsageSample struct {
	At         time.Time `json:"at"`
	Goroutines int       `json:"goroutines"`
	HeapBytes  uint64    `json:"heap_bytes"`
}

// usageRing keeps the most recent samples in a fixed-size ring so a long
// session never grows its diagnostics without bound.
type usageRing struct {
	mu      sync.Mutex
	samples [usageRingSize]UsageSample
	next    int
	filled  bool
}

func (r *usageRing) record() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r.mu.Lock()
	r.samples[r.next] = UsageSample{
		At:         time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
	}
	r.next++
	if r.next == usageRingSize {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// snapshot returns samples oldest-first.
func (r *usageRing) snapshot() []UsageSample {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		return append([]UsageSample{}, r.samples[:r.next]...)
	}
	out := make([]UsageSample, 0, usageRingSize)
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}
