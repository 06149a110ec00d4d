package executor

import (
	"sync"
	"time"
)

// recheckTimers schedules in-process time-based re-checks. One timer per
// execution, always kept at the earliest requested instant. Timers are a
// latency optimization only: a lost timer is recovered by the next event
// touching the execution.
type recheckTimers struct {
	mu      sync.Mutex
	entries map[string]*recheckEntry
	stopped bool
}

type recheckEntry struct {
	due   time.Time
	timer *time.Timer
}

func newRecheckTimers() *recheckTimers {
	return &recheckTimers{entries: make(map[string]*recheckEntry)}
}

// schedule arms (or re-arms) the timer for the execution. A later due
// than the one already armed is ignored; the armed timer covers it.
func (r *recheckTimers) schedule(executionID string, due time.Time, fire func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	if entry, ok := r.entries[executionID]; ok {
		if !entry.due.After(due) {
			return
		}

		entry.timer.Stop()
	}

	delay := time.Until(due)
	if delay < 0 {
		delay = 0
	}

	entry := &recheckEntry{due: due}
	entry.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.entries[executionID] == entry {
			delete(r.entries, executionID)
		}
		r.mu.Unlock()

		fire()
	})

	r.entries[executionID] = entry
}

// cancel drops the pending timer of a finished execution.
func (r *recheckTimers) cancel(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[executionID]; ok {
		entry.timer.Stop()
		delete(r.entries, executionID)
	}
}

func (r *recheckTimers) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true

	for id, entry := range r.entries {
		entry.timer.Stop()
		delete(r.entries, id)
	}
}
