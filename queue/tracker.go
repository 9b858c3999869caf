package queue

import (
	"log"
	"sync"
	"time"

	"github.com/coilworks/bms/observability"
)

// Tracker is the process-local in-flight set used by the gate to
// short-circuit duplicate ticks without a queue round-trip.
//
// Completion and failure events have a history of not firing, so every
// entry also schedules its own removal after the kind's cleanup
// timeout. Whichever of completion, failure or timeout happens first
// clears the entry.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*time.Timer
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*time.Timer)}
}

// Add inserts the key with a self-heal timeout. Returns false if the
// key is already tracked.
func (t *Tracker) Add(key string, cleanup time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		return false
	}
	t.entries[key] = time.AfterFunc(cleanup, func() {
		t.expire(key)
	})
	observability.TrackerSize.Set(float64(len(t.entries)))
	return true
}

// Contains reports whether the key is tracked as in-flight.
func (t *Tracker) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Remove clears the key and cancels its timeout. Safe to call for keys
// that are no longer tracked.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.entries[key]; ok {
		timer.Stop()
		delete(t.entries, key)
	}
	observability.TrackerSize.Set(float64(len(t.entries)))
}

// expire is the scheduled removal path for entries whose completion or
// failure event never arrived.
func (t *Tracker) expire(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	observability.TrackerSize.Set(float64(len(t.entries)))
	observability.TrackerTimeoutCleanups.Inc()
	log.Printf("tracker: entry %s removed by timeout, completion event never fired", key)
}

// Keys returns a snapshot of tracked keys, for the debug endpoint.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
