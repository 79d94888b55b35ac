// ABOUTME: Per-view push/poll coordinator: PushDriven while the stream is up, timed PollFallback while it is down.
// ABOUTME: Re-evaluated on every connectivity and lifecycle change with no hysteresis.
package poll

import (
	"sync"
	"time"

	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/track"
)

// ViewKind identifies the logical dashboard views the coordinator schedules.
type ViewKind int

const (
	ViewCascadeList ViewKind = iota
	ViewInstanceList
	ViewInstanceDetail
)

// View is one refetchable view scope. CascadeID/SessionID narrow which
// events are relevant to it.
type View struct {
	Kind      ViewKind
	CascadeID string
	SessionID string
}

// Mode is the coordinator's state for one view.
type Mode int

const (
	// Idle: nothing relevant is active; no timer, no event-driven refetch.
	Idle Mode = iota
	// PushDriven: stream is connected; refetch only on relevant events.
	PushDriven
	// PollFallback: stream is down and something relevant is active;
	// refetch on a fixed interval.
	PollFallback
)

// Cadence holds the poll intervals. Slow applies when the only relevant
// activity is a finalizing session awaiting confirmation.
type Cadence struct {
	List   time.Duration
	Detail time.Duration
	Slow   time.Duration
}

// DefaultCadence matches the reference cadences: list views 2s, detail
// views 1.5s while running, 5s slow fallback.
func DefaultCadence() Cadence {
	return Cadence{
		List:   2 * time.Second,
		Detail: 1500 * time.Millisecond,
		Slow:   5 * time.Second,
	}
}

// viewState is the coordinator's per-view bookkeeping.
type viewState struct {
	mode Mode
	// active: at least one relevant session is running or finalizing.
	active bool
	// slow: relevant sessions are only finalizing, not running.
	slow  bool
	timer track.Timer
	// generation invalidates a pending timer callback after reschedule.
	generation int
}

// Coordinator decides, per registered view, whether updates come from push
// or from timed polling. Refetch requests are delivered through the refetch
// callback, which must be cheap (the control loop bridges it to a channel).
type Coordinator struct {
	mu        sync.Mutex
	clock     track.Clock
	cadence   Cadence
	refetch   func(View)
	connected bool
	views     map[View]*viewState
}

// NewCoordinator creates a coordinator. A nil clock uses the wall clock;
// zero cadence fields fall back to DefaultCadence.
func NewCoordinator(clock track.Clock, cadence Cadence, refetch func(View)) *Coordinator {
	if clock == nil {
		clock = track.RealClock()
	}
	defaults := DefaultCadence()
	if cadence.List <= 0 {
		cadence.List = defaults.List
	}
	if cadence.Detail <= 0 {
		cadence.Detail = defaults.Detail
	}
	if cadence.Slow <= 0 {
		cadence.Slow = defaults.Slow
	}
	if refetch == nil {
		refetch = func(View) {}
	}
	return &Coordinator{
		clock:   clock,
		cadence: cadence,
		refetch: refetch,
		views:   make(map[View]*viewState),
	}
}

// Register starts scheduling for a view. Registering an existing view is a
// no-op.
func (c *Coordinator) Register(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.views[v]; ok {
		return
	}
	vs := &viewState{}
	c.views[v] = vs
	c.reevaluate(v, vs)
}

// Unregister stops scheduling for a view and cancels its timer.
func (c *Coordinator) Unregister(v View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs, ok := c.views[v]
	if !ok {
		return
	}
	c.stopTimer(vs)
	delete(c.views, v)
}

// SetConnected reports stream connectivity. Every view is re-evaluated;
// views entering PushDriven with activity get one resync fetch to cover
// events missed while the stream was down.
func (c *Coordinator) SetConnected(connected bool) {
	c.mu.Lock()

	wasConnected := c.connected
	c.connected = connected

	var resync []View
	for v, vs := range c.views {
		prev := vs.mode
		c.reevaluate(v, vs)
		if !wasConnected && connected && prev != PushDriven && vs.active {
			resync = append(resync, v)
		}
	}
	c.mu.Unlock()

	for _, v := range resync {
		c.refetch(v)
	}
}

// SetActivity reports the lifecycle state of the sessions a view depends
// on: running means at least one is running; finalizing means at least one
// awaits confirmation. Called on every lifecycle signal.
func (c *Coordinator) SetActivity(v View, running, finalizing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vs, ok := c.views[v]
	if !ok {
		return
	}
	vs.active = running || finalizing
	vs.slow = !running && finalizing
	c.reevaluate(v, vs)
}

// HandleEvent triggers event-driven refetches for push-driven views the
// event is relevant to.
func (c *Coordinator) HandleEvent(evt cascade.Event) {
	c.mu.Lock()
	var hit []View
	for v, vs := range c.views {
		if vs.mode == PushDriven && relevant(v, evt) {
			hit = append(hit, v)
		}
	}
	c.mu.Unlock()

	for _, v := range hit {
		c.refetch(v)
	}
}

// Mode returns the current mode of a view; Idle for unknown views.
func (c *Coordinator) Mode(v View) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vs, ok := c.views[v]; ok {
		return vs.mode
	}
	return Idle
}

// Shutdown cancels every timer. The coordinator is unusable afterward.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for v, vs := range c.views {
		c.stopTimer(vs)
		delete(c.views, v)
	}
}

// reevaluate recomputes a view's mode and adjusts its timer. Caller holds
// the lock.
func (c *Coordinator) reevaluate(v View, vs *viewState) {
	mode := computeMode(c.connected, vs.active)
	if mode == vs.mode && mode != PollFallback {
		return
	}
	// PollFallback reschedules even when already polling: the cadence may
	// have changed (running -> finalizing-only).
	vs.mode = mode
	c.stopTimer(vs)
	if mode == PollFallback {
		c.armTimer(v, vs)
	}
}

// computeMode is the pure transition function: connectivity wins, then
// activity decides between polling and idling.
func computeMode(connected, active bool) Mode {
	if connected {
		return PushDriven
	}
	if active {
		return PollFallback
	}
	return Idle
}

// armTimer schedules the next poll tick for a view. Caller holds the lock.
func (c *Coordinator) armTimer(v View, vs *viewState) {
	vs.generation++
	gen := vs.generation
	vs.timer = c.clock.AfterFunc(c.interval(v, vs), func() {
		c.pollTick(v, gen)
	})
}

// pollTick fires one poll cycle: refetch, then rearm if the view is still
// in PollFallback with the same generation.
func (c *Coordinator) pollTick(v View, gen int) {
	c.mu.Lock()
	vs, ok := c.views[v]
	if !ok || vs.mode != PollFallback || vs.generation != gen {
		c.mu.Unlock()
		return
	}
	c.armTimer(v, vs)
	c.mu.Unlock()

	c.refetch(v)
}

// interval picks the poll cadence for a view.
func (c *Coordinator) interval(v View, vs *viewState) time.Duration {
	if vs.slow {
		return c.cadence.Slow
	}
	if v.Kind == ViewInstanceDetail {
		return c.cadence.Detail
	}
	return c.cadence.List
}

// stopTimer cancels a view's pending tick, if armed. Caller holds the lock.
func (c *Coordinator) stopTimer(vs *viewState) {
	if vs.timer != nil {
		vs.timer.Stop()
		vs.timer = nil
	}
	vs.generation++
}

// relevant reports whether an event falls inside a view's scope.
func relevant(v View, evt cascade.Event) bool {
	switch v.Kind {
	case ViewCascadeList:
		return true
	case ViewInstanceList:
		return evt.CascadeID == "" || evt.CascadeID == v.CascadeID
	case ViewInstanceDetail:
		return evt.SessionID == v.SessionID
	}
	return false
}
