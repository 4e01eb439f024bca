package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds how far back any window may look.
const retention = 5 * time.Minute

type outcome uint8

const (
	success outcome = iota
	failure
	denied
)

type event struct {
	at   time.Time
	kind outcome
}

var defaultTracker = NewTracker(nil)

// RecordSuccess records a fetch that appended an observation.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a failed fetch (upstream error, malformed record, timeout).
func RecordError() {
	defaultTracker.RecordError()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps a time-ordered log of fetch outcomes for the last few minutes.
// It feeds the rate limit gauges and the health check's degraded status.
type Tracker struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	events []event
}

// NewTracker returns an empty tracker. A nil clock uses wall time.
func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() { t.record(success) }

// RecordError records a failed outcome.
func (t *Tracker) RecordError() { t.record(failure) }

// RecordDenied records a rate-limit denial.
func (t *Tracker) RecordDenied() { t.record(denied) }

func (t *Tracker) record(kind outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.events = append(t.events, event{at: now, kind: kind})
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, e, d := t.counts(window)
	return s + e + d
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (errorCount, totalCount) within the window.
// Denials are excluded: a throttled caller says nothing about upstream health.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s, e, _ := t.counts(window)
	return e, s + e
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) counts(window time.Duration) (succ, fail, deny int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	// events are appended in clock order, so scan from the newest backwards
	for i := len(t.events) - 1; i >= 0 && !t.events[i].at.Before(cutoff); i-- {
		switch t.events[i].kind {
		case success:
			succ++
		case failure:
			fail++
		case denied:
			deny++
		}
	}
	return succ, fail, deny
}

// pruneLocked drops events older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
