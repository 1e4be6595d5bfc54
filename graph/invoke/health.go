package invoke

import (
	"sync"
	"time"
)

// ModelHealth tracks recent timeouts per model and tells the executor when to
// prefer a fallback.
//
// After the n-th consecutive timeout a model is avoided for
// base * 2^(n-1), capped at max. A successful call clears the record.
type ModelHealth struct {
	base time.Duration
	max  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]healthEntry
}

type healthEntry struct {
	timeouts int
	until    time.Time
}

// NewModelHealth creates a tracker. Zero durations use 30s and 10m.
func NewModelHealth(base, max time.Duration) *ModelHealth {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = 10 * time.Minute
	}
	return &ModelHealth{
		base:    base,
		max:     max,
		now:     time.Now,
		entries: make(map[string]healthEntry),
	}
}

// RecordTimeout notes that a call to modelRef timed out.
func (h *ModelHealth) RecordTimeout(modelRef string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entries[modelRef]
	e.timeouts++
	penalty := h.base
	for i := 1; i < e.timeouts && penalty < h.max; i++ {
		penalty *= 2
	}
	if penalty > h.max {
		penalty = h.max
	}
	e.until = h.now().Add(penalty)
	h.entries[modelRef] = e
}

// RecordSuccess clears the timeout history of modelRef.
func (h *ModelHealth) RecordSuccess(modelRef string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, modelRef)
}

// ShouldFallback reports whether modelRef is inside a penalty window.
func (h *ModelHealth) ShouldFallback(modelRef string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[modelRef]
	return ok && h.now().Before(e.until)
}

// Timeouts returns the consecutive timeout count for modelRef.
func (h *ModelHealth) Timeouts(modelRef string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[modelRef].timeouts
}
