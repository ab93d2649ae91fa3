// Package window tracks per-owner rolling value totals — the only mutable
// shared state in the pipeline. A single tracker is the sole authority for
// window updates, so two concurrent plans can never both pass the cap check
// against a stale total.
package window

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCapacityExceeded is returned when the tracker lock cannot be acquired
// within the retry budget. Callers resolve it to a BLOCK verdict: ambiguity
// favors denial.
var ErrCapacityExceeded = errors.New("window tracker contention exceeded retry budget")

const (
	lockRetries   = 50
	lockRetryWait = 200 * time.Microsecond
)

type entry struct {
	id     string
	amount float64
	at     time.Time
}

// Tracker holds rolling per-owner totals over a fixed duration.
type Tracker struct {
	mu       sync.Mutex
	duration time.Duration
	entries  map[string][]entry // owner ref -> reservations, oldest first
	now      func() time.Time
}

// NewTracker creates a tracker with the given rolling window duration.
func NewTracker(duration time.Duration) *Tracker {
	return &Tracker{
		duration: duration,
		entries:  make(map[string][]entry),
		now:      time.Now,
	}
}

// Duration returns the rolling window duration.
func (t *Tracker) Duration() time.Duration { return t.duration }

// Reservation is a tentative window entry for a plan under evaluation.
// Release it when the plan does not resolve to ALLOW.
type Reservation struct {
	ID    string
	Owner string
	// PriorTotal is the committed window total at reservation time,
	// excluding this reservation's amount. This is the value the policy
	// engine evaluates against.
	PriorTotal float64
}

// Reserve atomically records amount against the owner's window and returns
// the total that preceded it. The reservation counts toward the window
// immediately, so a concurrent plan for the same owner sees it in its own
// PriorTotal.
func (t *Tracker) Reserve(owner string, amount float64) (*Reservation, error) {
	if !t.lock() {
		return nil, ErrCapacityExceeded
	}
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(owner, now)

	var total float64
	for _, e := range t.entries[owner] {
		total += e.amount
	}

	res := &Reservation{
		ID:         uuid.New().String(),
		Owner:      owner,
		PriorTotal: total,
	}
	t.entries[owner] = append(t.entries[owner], entry{id: res.ID, amount: amount, at: now})
	return res, nil
}

// Release removes a reservation whose plan did not resolve to ALLOW.
// Releasing an unknown or already-expired reservation is a no-op.
func (t *Tracker) Release(res *Reservation) {
	if res == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.entries[res.Owner]
	for i, e := range entries {
		if e.id == res.ID {
			t.entries[res.Owner] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Total returns the owner's current rolling total, pruning expired entries.
func (t *Tracker) Total(owner string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked(owner, t.now())
	var total float64
	for _, e := range t.entries[owner] {
		total += e.amount
	}
	return total
}

// pruneLocked drops entries older than the window. Caller holds the lock.
func (t *Tracker) pruneLocked(owner string, now time.Time) {
	entries := t.entries[owner]
	cutoff := now.Add(-t.duration)
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	remaining := entries[i:]
	if len(remaining) == 0 {
		delete(t.entries, owner)
		return
	}
	t.entries[owner] = remaining
}

// lock acquires the tracker mutex within a bounded retry budget.
func (t *Tracker) lock() bool {
	for i := 0; i < lockRetries; i++ {
		if t.mu.TryLock() {
			return true
		}
		time.Sleep(lockRetryWait)
	}
	return false
}
