package remediation

import (
	"sync"
	"time"
)

// Budget caps the number of remediated events in a sliding one-hour window.
// A zero cap disables it.
type Budget struct {
	mu          sync.Mutex
	maxPerHour  int
	recentTimes []time.Time
	now         func() time.Time
}

// NewBudget creates a budget allowing maxPerHour remediations.
func NewBudget(maxPerHour int) *Budget {
	return &Budget{maxPerHour: maxPerHour, now: time.Now}
}

// Exhausted reports whether the window is full.
func (b *Budget) Exhausted() bool {
	if b == nil || b.maxPerHour <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneOld()
	return len(b.recentTimes) >= b.maxPerHour
}

// Record notes one remediated event.
func (b *Budget) Record() {
	if b == nil || b.maxPerHour <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentTimes = append(b.recentTimes, b.now())
}

// pruneOld drops entries older than one hour.
func (b *Budget) pruneOld() {
	cutoff := b.now().Add(-1 * time.Hour)
	i := 0
	for i < len(b.recentTimes) && b.recentTimes[i].Before(cutoff) {
		i++
	}
	b.recentTimes = b.recentTimes[i:]
}
