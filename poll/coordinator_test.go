// ABOUTME: Tests for the push/poll coordinator using a manually advanced fake clock.
// ABOUTME: Covers mode transitions, poll cadence selection, event relevance, and reconnect resync.
package poll

import (
	"sync"
	"testing"
	"time"

	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/track"
)

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

func (c *fakeClock) AfterFunc(d time.Duration, f func()) track.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance fires due timers one at a time so rearmed timers scheduled during
// a callback are picked up within the same advance. Time steps to each due
// timer's deadline before its callback runs, so timers rearmed in a callback
// are scheduled relative to that deadline, as with a real clock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.deadline.After(end) {
				if due == nil || t.deadline.Before(due.deadline) {
					due = t
				}
			}
		}
		if due != nil {
			due.fired = true
			if due.deadline.After(c.now) {
				c.now = due.deadline
			}
		} else {
			c.now = end
		}
		c.mu.Unlock()

		if due == nil {
			return
		}
		due.f()
	}
}

type refetchLog struct {
	mu    sync.Mutex
	views []View
}

func (r *refetchLog) record(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *refetchLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func newTestCoordinator() (*Coordinator, *fakeClock, *refetchLog) {
	clock := newFakeClock()
	log := &refetchLog{}
	c := NewCoordinator(clock, DefaultCadence(), log.record)
	return c, clock, log
}

func TestCoordinatorModeTransitions(t *testing.T) {
	c, _, _ := newTestCoordinator()
	v := View{Kind: ViewInstanceDetail, SessionID: "s1"}
	c.Register(v)

	if got := c.Mode(v); got != Idle {
		t.Fatalf("initial mode = %v, want Idle", got)
	}

	c.SetConnected(true)
	if got := c.Mode(v); got != PushDriven {
		t.Fatalf("connected mode = %v, want PushDriven", got)
	}

	// Connection drops with nothing active: back to Idle, no timer.
	c.SetConnected(false)
	if got := c.Mode(v); got != Idle {
		t.Fatalf("disconnected idle mode = %v, want Idle", got)
	}

	c.SetActivity(v, true, false)
	if got := c.Mode(v); got != PollFallback {
		t.Fatalf("disconnected active mode = %v, want PollFallback", got)
	}

	// Session settles: polling stops.
	c.SetActivity(v, false, false)
	if got := c.Mode(v); got != Idle {
		t.Fatalf("settled mode = %v, want Idle", got)
	}
}

func TestCoordinatorPollFallbackCadence(t *testing.T) {
	c, clock, log := newTestCoordinator()
	v := View{Kind: ViewInstanceDetail, SessionID: "s1"}
	c.Register(v)
	c.SetActivity(v, true, false)

	clock.Advance(1500 * time.Millisecond)
	if got := log.count(); got != 1 {
		t.Fatalf("refetches after one detail interval = %d, want 1", got)
	}
	clock.Advance(3 * time.Second)
	if got := log.count(); got != 3 {
		t.Errorf("refetches after 4.5s = %d, want 3 (timer rearms)", got)
	}
}

func TestCoordinatorSlowCadenceWhileFinalizingOnly(t *testing.T) {
	c, clock, log := newTestCoordinator()
	v := View{Kind: ViewInstanceDetail, SessionID: "s1"}
	c.Register(v)
	c.SetActivity(v, false, true)

	clock.Advance(4 * time.Second)
	if got := log.count(); got != 0 {
		t.Fatalf("refetches before slow interval = %d, want 0", got)
	}
	clock.Advance(time.Second)
	if got := log.count(); got != 1 {
		t.Errorf("refetches at 5s = %d, want 1", got)
	}
}

func TestCoordinatorPushDrivenStopsTimer(t *testing.T) {
	c, clock, log := newTestCoordinator()
	v := View{Kind: ViewCascadeList}
	c.Register(v)
	c.SetActivity(v, true, false)
	c.SetConnected(true)

	before := log.count() // resync fetch may have fired
	clock.Advance(time.Minute)
	if got := log.count(); got != before {
		t.Errorf("poll timer still firing in PushDriven: %d extra fetches", got-before)
	}
}

func TestCoordinatorEventDrivenRefetchScoping(t *testing.T) {
	c, _, log := newTestCoordinator()
	list := View{Kind: ViewCascadeList}
	instances := View{Kind: ViewInstanceList, CascadeID: "c1"}
	detail := View{Kind: ViewInstanceDetail, SessionID: "s1"}
	c.Register(list)
	c.Register(instances)
	c.Register(detail)
	c.SetConnected(true)

	c.HandleEvent(cascade.Event{Type: cascade.EventPhaseStart, SessionID: "s2", CascadeID: "c2"})

	log.mu.Lock()
	got := append([]View(nil), log.views...)
	log.mu.Unlock()

	// The cascade list cares about everything; the c1 instance list and the
	// s1 detail view do not care about a c2/s2 event.
	for _, v := range got {
		if v == instances || v == detail {
			t.Errorf("out-of-scope view refetched: %+v", v)
		}
	}
	found := false
	for _, v := range got {
		if v == list {
			found = true
		}
	}
	if !found {
		t.Error("cascade list view did not refetch on event")
	}
}

func TestCoordinatorReconnectResyncsActiveViews(t *testing.T) {
	c, _, log := newTestCoordinator()
	v := View{Kind: ViewInstanceDetail, SessionID: "s1"}
	c.Register(v)
	c.SetActivity(v, true, false)

	before := log.count()
	c.SetConnected(true)
	if got := log.count(); got != before+1 {
		t.Errorf("resync fetches on reconnect = %d, want 1", got-before)
	}
}

func TestCoordinatorUnregisterStopsPolling(t *testing.T) {
	c, clock, log := newTestCoordinator()
	v := View{Kind: ViewInstanceList, CascadeID: "c1"}
	c.Register(v)
	c.SetActivity(v, true, false)
	c.Unregister(v)

	clock.Advance(time.Minute)
	if got := log.count(); got != 0 {
		t.Errorf("refetches after unregister = %d, want 0", got)
	}
	if got := c.Mode(v); got != Idle {
		t.Errorf("mode for unregistered view = %v, want Idle", got)
	}
}

func TestCoordinatorFlappingConnectionIsSafe(t *testing.T) {
	c, clock, log := newTestCoordinator()
	v := View{Kind: ViewCascadeList}
	c.Register(v)
	c.SetActivity(v, true, false)

	for i := 0; i < 10; i++ {
		c.SetConnected(true)
		c.SetConnected(false)
	}
	if got := c.Mode(v); got != PollFallback {
		t.Fatalf("mode after flapping = %v, want PollFallback", got)
	}
	before := log.count()
	clock.Advance(2 * time.Second)
	if got := log.count(); got != before+1 {
		t.Errorf("polling did not resume cleanly after flapping: %d extra", got-before)
	}
}
