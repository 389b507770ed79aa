package merrors

import (
	"sync"
	"time"
)

// Tracker accumulates error counts by category for Engine.Stats().
type Tracker struct {
	mu             sync.RWMutex
	counts         map[Category]uint64
	lastOccurrence map[Category]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		counts:         make(map[Category]uint64),
		lastOccurrence: make(map[Category]time.Time),
	}
}

func (t *Tracker) Record(category Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[category]++
	t.lastOccurrence[category] = time.Now()
}

func (t *Tracker) Count(category Category) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[category]
}

func (t *Tracker) Snapshot() map[Category]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Category]uint64, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
