// ABOUTME: Tests for the session lifecycle tracker using a manually advanced fake clock.
// ABOUTME: Covers grace-period forcing, completion signal dedup, immediate failure, and running counts.
package track

import (
	"sync"
	"testing"
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// fakeTimer is a timer registered on a fakeClock.
type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock advances only when told to, firing due timers synchronously.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires every due, unstopped timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// signalRecorder collects tracker signals.
type signalRecorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *signalRecorder) record(s Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
}

func (r *signalRecorder) all() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

func (r *signalRecorder) count(kind SignalKind) int {
	n := 0
	for _, s := range r.all() {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func newTestTracker() (*Tracker, *fakeClock, *signalRecorder) {
	clock := newFakeClock()
	rec := &signalRecorder{}
	tr := NewTracker(clock, 30*time.Second, rec.record)
	return tr, clock, rec
}

func TestTrackerLifecycleHappyPath(t *testing.T) {
	tr, _, rec := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	if s, _ := tr.Session("s1"); s.Status != cascade.StatusRunning {
		t.Fatalf("status = %s, want running", s.Status)
	}
	if !tr.CascadeRunning("c1") {
		t.Fatal("cascade should be running")
	}

	tr.OnComplete("s1", "c1")
	if s, _ := tr.Session("s1"); s.Status != cascade.StatusFinalizing {
		t.Fatalf("status = %s, want finalizing", s.Status)
	}
	if tr.CascadeRunning("c1") {
		t.Fatal("running count should have dropped to 0")
	}

	tr.OnConfirmed("s1")
	s, _ := tr.Session("s1")
	if s.Status != cascade.StatusSettled || s.Forced {
		t.Fatalf("session = %+v, want settled (not forced)", s)
	}
	if rec.count(SignalCompleted) != 1 {
		t.Errorf("completed signals = %d, want 1", rec.count(SignalCompleted))
	}
}

func TestTrackerCompletionSignalDedup(t *testing.T) {
	tr, _, rec := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	// Duplicate completion events followed by repeated confirmations.
	tr.OnComplete("s1", "c1")
	tr.OnComplete("s1", "c1")
	tr.OnComplete("s1", "c1")
	tr.OnConfirmed("s1")
	tr.OnConfirmed("s1")
	tr.OnConfirmed("s1")

	if got := rec.count(SignalCompleted); got != 1 {
		t.Errorf("completed signals = %d, want exactly 1", got)
	}
}

func TestTrackerGracePeriodForcesSettle(t *testing.T) {
	tr, clock, rec := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	tr.OnComplete("s1", "c1")

	clock.Advance(29 * time.Second)
	if s, _ := tr.Session("s1"); s.Status != cascade.StatusFinalizing {
		t.Fatalf("status = %s before grace elapsed, want finalizing", s.Status)
	}

	clock.Advance(2 * time.Second)
	s, _ := tr.Session("s1")
	if s.Status != cascade.StatusSettled || !s.Forced {
		t.Fatalf("session = %+v, want force-settled", s)
	}
	if got := rec.count(SignalDelayedFinalize); got != 1 {
		t.Errorf("delayed-finalize signals = %d, want exactly 1", got)
	}

	// A confirmation arriving after the forced settle must not re-toast.
	tr.OnConfirmed("s1")
	if got := rec.count(SignalCompleted); got != 0 {
		t.Errorf("completed signals after forced settle = %d, want 0", got)
	}
}

func TestTrackerConfirmationJustBeforeGraceCancelsTimer(t *testing.T) {
	tr, clock, rec := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	tr.OnComplete("s1", "c1")

	clock.Advance(29*time.Second + 900*time.Millisecond)
	tr.OnConfirmed("s1")

	clock.Advance(time.Minute)
	if got := rec.count(SignalDelayedFinalize); got != 0 {
		t.Errorf("delayed-finalize signals = %d, want 0 (timer cancelled)", got)
	}
	if got := rec.count(SignalCompleted); got != 1 {
		t.Errorf("completed signals = %d, want 1", got)
	}
	s, _ := tr.Session("s1")
	if s.Forced {
		t.Error("session should not be marked forced")
	}
}

func TestTrackerCompleteWithoutStartStillFinalizes(t *testing.T) {
	tr, clock, rec := newTestTracker()

	// The feed was joined mid-run: cascade_complete arrives for a session
	// whose cascade_start was never observed.
	tr.OnComplete("ghost", "c1")
	if s, _ := tr.Session("ghost"); s.Status != cascade.StatusFinalizing {
		t.Fatalf("status = %q, want finalizing", s.Status)
	}

	clock.Advance(31 * time.Second)
	s, _ := tr.Session("ghost")
	if s.Status != cascade.StatusSettled || !s.Forced {
		t.Fatalf("session = %+v, want force-settled", s)
	}
	if got := rec.count(SignalDelayedFinalize); got != 1 {
		t.Errorf("delayed-finalize signals = %d, want 1", got)
	}
}

func TestTrackerCompleteWithoutStartConfirms(t *testing.T) {
	tr, clock, rec := newTestTracker()

	// Another session of the same cascade is genuinely running; the
	// synthesized entry must not eat its running count.
	tr.OnStart("s1", "c1", 0, "")
	tr.OnComplete("ghost", "c1")
	if !tr.CascadeRunning("c1") {
		t.Fatal("running count perturbed by a never-started session")
	}

	tr.OnConfirmed("ghost")
	s, _ := tr.Session("ghost")
	if s.Status != cascade.StatusSettled || s.Forced {
		t.Fatalf("session = %+v, want settled (not forced)", s)
	}
	if got := rec.count(SignalCompleted); got != 1 {
		t.Errorf("completed signals = %d, want 1", got)
	}

	clock.Advance(time.Minute)
	if got := rec.count(SignalDelayedFinalize); got != 0 {
		t.Errorf("delayed-finalize signals = %d, want 0 (timer cancelled)", got)
	}
}

func TestTrackerErrorFailsImmediately(t *testing.T) {
	tr, _, rec := newTestTracker()

	tr.OnStart("s2", "c1", 0, "")
	tr.OnError("s2", "c1", "phase blew up")

	s, _ := tr.Session("s2")
	if s.Status != cascade.StatusFailed {
		t.Fatalf("status = %s, want failed (no finalizing intermediate)", s.Status)
	}
	if tr.CascadeRunning("c1") {
		t.Error("running count should be decremented on error")
	}
	if got := rec.count(SignalFailed); got != 1 {
		t.Errorf("failed signals = %d, want 1", got)
	}
}

func TestTrackerRunningCountAcrossSessions(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	tr.OnStart("s2", "c1", 1, "s1")
	tr.OnComplete("s1", "c1")
	if !tr.CascadeRunning("c1") {
		t.Fatal("cascade still has s2 running")
	}
	tr.OnComplete("s2", "c1")
	if tr.CascadeRunning("c1") {
		t.Fatal("cascade should have no running sessions")
	}
}

func TestTrackerDuplicateStartDoesNotInflateCount(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	tr.OnStart("s1", "c1", 0, "")
	tr.OnComplete("s1", "c1")
	if tr.CascadeRunning("c1") {
		t.Fatal("re-delivered cascade_start inflated the running count")
	}
}

func TestTrackerForgetCancelsTimer(t *testing.T) {
	tr, clock, rec := newTestTracker()

	tr.OnStart("s1", "c1", 0, "")
	tr.OnComplete("s1", "c1")
	tr.Forget("s1")

	clock.Advance(time.Minute)
	if got := rec.count(SignalDelayedFinalize); got != 0 {
		t.Errorf("delayed-finalize signals after Forget = %d, want 0", got)
	}
	if _, ok := tr.Session("s1"); ok {
		t.Error("session should be gone after Forget")
	}
}

func TestTrackerAnyActive(t *testing.T) {
	tr, _, _ := newTestTracker()

	if tr.AnyActive() {
		t.Fatal("empty tracker should be inactive")
	}
	tr.OnStart("s1", "c1", 0, "")
	if !tr.AnyActive() {
		t.Fatal("running session should be active")
	}
	tr.OnComplete("s1", "c1")
	if !tr.AnyActive() {
		t.Fatal("finalizing session should still count as active")
	}
	tr.OnConfirmed("s1")
	if tr.AnyActive() {
		t.Fatal("settled session should be inactive")
	}
}

func TestTrackerSessionsOrderedNewestFirst(t *testing.T) {
	tr, clock, _ := newTestTracker()

	tr.OnStart("older", "c1", 0, "")
	clock.Advance(time.Second)
	tr.OnStart("newer", "c1", 0, "")

	sessions := tr.Sessions()
	if len(sessions) != 2 || sessions[0].SessionID != "newer" {
		t.Errorf("sessions = %+v, want newer first", sessions)
	}
}
