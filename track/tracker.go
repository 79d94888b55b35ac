// ABOUTME: Session lifecycle tracker: running -> finalizing -> settled/failed with a finalize grace period.
// ABOUTME: Deduplicates completion signals per session and maintains per-cascade running counts.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// DefaultGracePeriod is how long a finalizing session waits for query-layer
// confirmation before being force-settled.
const DefaultGracePeriod = 30 * time.Second

// SignalKind classifies tracker notifications to the presentation layer.
type SignalKind int

const (
	// SignalCompleted fires exactly once per session when completion is
	// confirmed by the query layer.
	SignalCompleted SignalKind = iota
	// SignalDelayedFinalize fires when the grace period elapsed without
	// confirmation and the session was force-settled. Non-fatal warning.
	SignalDelayedFinalize
	// SignalFailed fires when a session errors.
	SignalFailed
)

// Signal is one tracker notification. Message carries the error text for
// SignalFailed.
type Signal struct {
	Kind      SignalKind
	SessionID string
	CascadeID string
	Message   string
}

// Tracker is the process-wide session lifecycle table. It is driven from the
// control loop; the mutex exists only because grace timers fire on their own
// goroutine. Notify is invoked with the lock released.
type Tracker struct {
	mu sync.Mutex

	clock Clock
	grace time.Duration

	// Notify receives lifecycle signals. Must not block for long; the
	// control loop bridges it onto its own channel.
	notify func(Signal)

	sessions map[string]*cascade.Session
	running  map[string]int // cascade_id -> running session count
	// completed records sessions whose completion signal already fired.
	// Never cleaned up within the tracker's lifetime: that is what makes
	// the completion toast fire at most once per session.
	completed map[string]bool
	timers    map[string]Timer
}

// NewTracker creates a tracker with the given clock and grace period.
// A zero grace falls back to DefaultGracePeriod.
func NewTracker(clock Clock, grace time.Duration, notify func(Signal)) *Tracker {
	if clock == nil {
		clock = RealClock()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if notify == nil {
		notify = func(Signal) {}
	}
	return &Tracker{
		clock:     clock,
		grace:     grace,
		notify:    notify,
		sessions:  make(map[string]*cascade.Session),
		running:   make(map[string]int),
		completed: make(map[string]bool),
		timers:    make(map[string]Timer),
	}
}

// OnStart records a session entering the running state. Re-delivery of
// cascade_start overwrites the entry, which is harmless: the fields are the
// same and the running count is only incremented on a genuine transition.
func (t *Tracker) OnStart(sessionID, cascadeID string, depth int, parentSessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.sessions[sessionID]; ok && existing.Status == cascade.StatusRunning {
		return
	}

	t.sessions[sessionID] = &cascade.Session{
		SessionID:       sessionID,
		CascadeID:       cascadeID,
		ParentSessionID: parentSessionID,
		Depth:           depth,
		StartTime:       t.clock.Now(),
		Status:          cascade.StatusRunning,
	}
	t.running[cascadeID]++
}

// OnComplete moves a session into finalizing and arms the grace timer.
// The stream said "complete", but the persisted log may not be queryable
// yet; settling waits for OnConfirmed or the timer.
func (t *Tracker) OnComplete(sessionID, cascadeID string) {
	t.mu.Lock()

	s, ok := t.sessions[sessionID]
	if !ok {
		// Cold load or missed start: synthesize a running entry so the
		// grace machinery still applies. The running count was never
		// incremented for it, so it is not decremented below.
		s = &cascade.Session{
			SessionID: sessionID,
			CascadeID: cascadeID,
			StartTime: t.clock.Now(),
			Status:    cascade.StatusRunning,
		}
		t.sessions[sessionID] = s
	}

	if s.Status != cascade.StatusRunning {
		// Duplicate cascade_complete, or already confirmed/failed.
		t.mu.Unlock()
		return
	}

	if ok {
		t.decrementRunning(cascadeID)
	}
	s.Status = cascade.StatusFinalizing

	id := sessionID
	t.timers[sessionID] = t.clock.AfterFunc(t.grace, func() {
		t.forceSettle(id)
	})
	t.mu.Unlock()
}

// OnConfirmed settles a finalizing session after the query layer returned
// its log. The completion signal fires exactly once per session: repeated
// confirmations and confirmations after a forced settle are no-ops.
func (t *Tracker) OnConfirmed(sessionID string) {
	t.mu.Lock()

	s, ok := t.sessions[sessionID]
	if !ok || s.Status != cascade.StatusFinalizing {
		t.mu.Unlock()
		return
	}

	t.stopTimer(sessionID)
	s.Status = cascade.StatusSettled

	if t.completed[sessionID] {
		t.mu.Unlock()
		return
	}
	t.completed[sessionID] = true
	sig := Signal{Kind: SignalCompleted, SessionID: sessionID, CascadeID: s.CascadeID}
	t.mu.Unlock()

	t.notify(sig)
}

// OnError marks a session failed immediately. Failures do not pass through
// finalizing and get no grace period.
func (t *Tracker) OnError(sessionID, cascadeID, message string) {
	t.mu.Lock()

	s, ok := t.sessions[sessionID]
	if !ok {
		s = &cascade.Session{SessionID: sessionID, CascadeID: cascadeID, StartTime: t.clock.Now()}
		t.sessions[sessionID] = s
	}

	if s.Status == cascade.StatusRunning {
		t.decrementRunning(cascadeID)
	}
	t.stopTimer(sessionID)
	s.Status = cascade.StatusFailed
	sig := Signal{Kind: SignalFailed, SessionID: sessionID, CascadeID: cascadeID, Message: message}
	t.mu.Unlock()

	t.notify(sig)
}

// forceSettle runs when the grace timer fires with no confirmation.
func (t *Tracker) forceSettle(sessionID string) {
	t.mu.Lock()

	s, ok := t.sessions[sessionID]
	if !ok || s.Status != cascade.StatusFinalizing {
		t.mu.Unlock()
		return
	}

	delete(t.timers, sessionID)
	s.Status = cascade.StatusSettled
	s.Forced = true
	t.completed[sessionID] = true // a later confirmation must not re-toast
	sig := Signal{Kind: SignalDelayedFinalize, SessionID: sessionID, CascadeID: s.CascadeID}
	t.mu.Unlock()

	t.notify(sig)
}

// Forget removes a session from the tracker, cancelling any pending grace
// timer. Called on explicit navigation away; the tracker never garbage
// collects on its own.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	if s.Status == cascade.StatusRunning {
		t.decrementRunning(s.CascadeID)
	}
	t.stopTimer(sessionID)
	delete(t.sessions, sessionID)
}

// Session returns a copy of the tracked session, if known.
func (t *Tracker) Session(sessionID string) (cascade.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return cascade.Session{}, false
	}
	return *s, true
}

// CascadeRunning reports whether any session of the cascade is running.
func (t *Tracker) CascadeRunning(cascadeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running[cascadeID] > 0
}

// AnyActive reports whether any tracked session is running or finalizing.
func (t *Tracker) AnyActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		if s.Status == cascade.StatusRunning || s.Status == cascade.StatusFinalizing {
			return true
		}
	}
	return false
}

// Sessions returns copies of all tracked sessions ordered by start time,
// newest first, ties broken by session ID for stable output.
func (t *Tracker) Sessions() []cascade.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]cascade.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// decrementRunning lowers a cascade's running count with a floor of zero.
func (t *Tracker) decrementRunning(cascadeID string) {
	if t.running[cascadeID] > 0 {
		t.running[cascadeID]--
	}
	if t.running[cascadeID] == 0 {
		delete(t.running, cascadeID)
	}
}

// stopTimer cancels and forgets the session's grace timer, if armed.
func (t *Tracker) stopTimer(sessionID string) {
	if timer, ok := t.timers[sessionID]; ok {
		timer.Stop()
		delete(t.timers, sessionID)
	}
}
