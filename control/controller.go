// ABOUTME: Root controller: single event-loop goroutine owning the tracker, coordinator, and fetch lifecycle.
// ABOUTME: Bridges stream events, lifecycle signals, poll ticks, and fetch results into one confined state.
package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/poll"
	"github.com/windlass-sh/masthead/track"
	"github.com/windlass-sh/masthead/tree"
)

// ToastLevel classifies presentation notices.
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastWarn
	ToastError
)

// Toast is a one-shot notice for the presentation layer.
type Toast struct {
	Level   ToastLevel
	Message string
	Time    time.Time
}

// maxToasts bounds the retained toast history.
const maxToasts = 20

// Snapshot is an immutable view of controller state for presentation.
// Everything in it is a copy; readers never see loop-confined state.
type Snapshot struct {
	Connected   bool
	View        poll.View
	Sessions    []cascade.Session
	Cascades    []api.CascadeSummary
	Instances   []api.InstanceSummary
	Trees       map[string]*tree.Tree
	Checkpoints []cascade.PendingCheckpoint
	Toasts      []Toast
}

// Config wires a Controller. Clock, Grace, and Cadence are injectable for
// tests; zero values mean wall clock and defaults.
type Config struct {
	Client  *api.Client
	Clock   track.Clock
	Grace   time.Duration
	Cadence poll.Cadence
}

// fetchKind distinguishes what an in-flight fetch is loading.
type fetchKind int

const (
	fetchCascades fetchKind = iota
	fetchInstances
	fetchLog
)

// fetchKey identifies one fetch scope; at most one fetch per key flies at a
// time (the in-flight guard replacing a lock around the fold).
type fetchKey struct {
	kind fetchKind
	id   string
}

// inflight tracks one outstanding fetch. gen is the generation token that
// lets the loop drop stale responses; dirty re-runs the fetch once the
// current one lands.
type inflight struct {
	cancel context.CancelFunc
	gen    uint64
	dirty  bool
}

// fetchResult is what a fetch goroutine delivers back to the loop.
type fetchResult struct {
	key       fetchKey
	gen       uint64
	err       error
	log       api.SessionLog
	cascades  []api.CascadeSummary
	instances []api.InstanceSummary
}

// Controller owns the dashboard's protocol state. All mutation happens on
// the Run goroutine; external callers interact through Snapshot and the
// command methods, which post onto the loop.
type Controller struct {
	client      *api.Client
	clock       track.Clock
	tracker     *track.Tracker
	checkpoints *track.Checkpoints
	coord       *poll.Coordinator

	events    chan cascade.Event
	conns     chan bool
	signals   chan track.Signal
	refetches chan poll.View
	results   chan fetchResult
	commands  chan func()

	// Loop-confined state below; touched only from Run.
	runCtx    context.Context
	connected bool
	view      poll.View
	entries   map[string][]cascade.LogEntry
	trees     map[string]*tree.Tree
	cascades  []api.CascadeSummary
	instances []api.InstanceSummary
	toasts    []Toast
	inflight  map[fetchKey]*inflight
	nextGen   uint64

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates a Controller. Run must be called before it does anything.
func New(cfg Config) *Controller {
	clock := cfg.Clock
	if clock == nil {
		clock = track.RealClock()
	}

	c := &Controller{
		client:      cfg.Client,
		clock:       clock,
		checkpoints: track.NewCheckpoints(),
		events:      make(chan cascade.Event, 64),
		conns:       make(chan bool, 8),
		signals:     make(chan track.Signal, 64),
		refetches:   make(chan poll.View, 64),
		results:     make(chan fetchResult, 16),
		commands:    make(chan func(), 16),
		entries:     make(map[string][]cascade.LogEntry),
		trees:       make(map[string]*tree.Tree),
		inflight:    make(map[fetchKey]*inflight),
	}

	c.tracker = track.NewTracker(clock, cfg.Grace, c.postSignal)
	c.coord = poll.NewCoordinator(clock, cfg.Cadence, c.postRefetch)
	return c
}

// HandleEvent is the stream dispatch callback. Safe to call from the stream
// goroutine; events queue onto the loop in delivery order.
func (c *Controller) HandleEvent(evt cascade.Event) {
	c.events <- evt
}

// HandleConnectionChange is the stream connectivity callback.
func (c *Controller) HandleConnectionChange(connected bool) {
	c.conns <- connected
}

// postSignal bridges tracker signals (which may fire on a timer goroutine)
// onto the loop without blocking the timer.
func (c *Controller) postSignal(sig track.Signal) {
	select {
	case c.signals <- sig:
	default:
		log.Printf("control: dropping lifecycle signal for %s: queue full", sig.SessionID)
	}
}

// postRefetch bridges coordinator refetch requests onto the loop.
func (c *Controller) postRefetch(v poll.View) {
	select {
	case c.refetches <- v:
	default:
		// A full queue means a refetch is already pending; dropping one
		// costs nothing because the next tick re-requests.
	}
}

// Run drives the event loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.coord.Shutdown()
			return
		case evt := <-c.events:
			c.handleEvent(evt)
		case connected := <-c.conns:
			c.handleConnection(connected)
		case sig := <-c.signals:
			c.handleSignal(sig)
		case v := <-c.refetches:
			c.handleRefetch(v)
		case res := <-c.results:
			c.handleResult(res)
		case fn := <-c.commands:
			fn()
		}
		c.publish()
	}
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// SetView navigates the controller to a view: the old view's scheduling
// stops, in-flight fetches for it are aborted, and the new view is
// cold-loaded via REST regardless of any live event history.
func (c *Controller) SetView(v poll.View) {
	c.commands <- func() {
		if c.view != (poll.View{}) {
			c.coord.Unregister(c.view)
			c.abortFetches(c.view)
		}
		c.view = v
		c.coord.Register(v)
		c.syncActivity()
		c.requestFetch(keyForView(v))
	}
}

// ForgetSession drops a session from the tracker on explicit navigation
// away. The tracker never garbage-collects on its own.
func (c *Controller) ForgetSession(sessionID string) {
	c.commands <- func() {
		c.tracker.Forget(sessionID)
		delete(c.entries, sessionID)
		delete(c.trees, sessionID)
	}
}

// RespondCheckpoint optimistically resolves a checkpoint and submits the
// reply. On failure the checkpoint is restored and an error toast tells the
// user to retry; it is never silently lost.
func (c *Controller) RespondCheckpoint(checkpointID string, reply api.CheckpointReply) {
	c.commands <- func() {
		if !c.checkpoints.ResolveLocally(checkpointID) {
			return
		}
		go func() {
			err := c.client.RespondCheckpoint(c.runCtx, checkpointID, reply)
			c.commands <- func() {
				if err == nil {
					return
				}
				if _, ok := c.checkpoints.Restore(checkpointID); ok {
					c.toast(ToastError, "checkpoint response failed, please retry: "+err.Error())
				}
			}
		}()
	}
}

// RunCascade triggers a new run and surfaces failures as error toasts.
func (c *Controller) RunCascade(cascadeID string, params map[string]any) {
	c.commands <- func() {
		go func() {
			_, err := c.client.RunCascade(c.runCtx, cascadeID, params)
			if err != nil {
				c.commands <- func() {
					c.toast(ToastError, "run failed: "+err.Error())
				}
			}
		}()
	}
}

// FreezeSession snapshots a settled session as a regression fixture.
func (c *Controller) FreezeSession(sessionID, name string) {
	c.commands <- func() {
		go func() {
			err := c.client.FreezeSession(c.runCtx, sessionID, name)
			c.commands <- func() {
				if err != nil {
					c.toast(ToastError, "freeze failed: "+err.Error())
					return
				}
				c.toast(ToastInfo, "session frozen as "+name)
			}
		}()
	}
}

// handleEvent applies one stream event in delivery order.
func (c *Controller) handleEvent(evt cascade.Event) {
	switch evt.Type {
	case cascade.EventCascadeStart:
		d, err := cascade.DecodeStartData(evt)
		if err != nil {
			log.Printf("control: bad cascade_start payload: %v", err)
		}
		cascadeID := evt.CascadeID
		if d.CascadeID != "" {
			cascadeID = d.CascadeID
		}
		c.tracker.OnStart(evt.SessionID, cascadeID, d.Depth, d.ParentSessionID)

	case cascade.EventCascadeComplete:
		c.tracker.OnComplete(evt.SessionID, evt.CascadeID)
		// The stream says complete; confirmation needs the persisted log,
		// so always try a fetch even off the current view's scope.
		c.requestFetch(fetchKey{kind: fetchLog, id: evt.SessionID})

	case cascade.EventCascadeError:
		d, _ := cascade.DecodeErrorData(evt)
		c.tracker.OnError(evt.SessionID, evt.CascadeID, d.Message)

	case cascade.EventCheckpointWaiting:
		d, err := cascade.DecodeCheckpointData(evt)
		if err != nil || d.CheckpointID == "" {
			log.Printf("control: bad checkpoint_waiting payload: %v", err)
			break
		}
		c.checkpoints.Add(cascade.PendingCheckpoint{
			ID:             d.CheckpointID,
			SessionID:      evt.SessionID,
			CascadeID:      evt.CascadeID,
			PhaseName:      d.PhaseName,
			CheckpointType: d.CheckpointType,
			UISpec:         d.UISpec,
			TimeoutAt:      d.TimeoutAt,
		})

	case cascade.EventCheckpointResponded, cascade.EventCheckpointCancelled, cascade.EventCheckpointTimeout:
		d, _ := cascade.DecodeCheckpointData(evt)
		c.checkpoints.Remove(d.CheckpointID)

	case cascade.EventPhaseStart, cascade.EventPhaseComplete,
		cascade.EventToolCall, cascade.EventToolResult, cascade.EventCostUpdate:
		// Progress events carry no tracker transition; they only drive
		// event-scoped refetches below.

	default:
		log.Printf("control: ignoring unknown event type %q", evt.Type)
	}

	c.syncActivity()
	c.coord.HandleEvent(evt)
}

// handleConnection reacts to stream connectivity changes.
func (c *Controller) handleConnection(connected bool) {
	c.connected = connected
	c.coord.SetConnected(connected)
}

// handleSignal turns tracker signals into toasts and refreshed scheduling.
func (c *Controller) handleSignal(sig track.Signal) {
	switch sig.Kind {
	case track.SignalCompleted:
		c.toast(ToastInfo, "session "+sig.SessionID+" completed")
	case track.SignalDelayedFinalize:
		c.toast(ToastWarn, "session "+sig.SessionID+" finalized (delayed)")
	case track.SignalFailed:
		msg := sig.Message
		if msg == "" {
			msg = "cascade error"
		}
		c.toast(ToastError, "session "+sig.SessionID+" failed: "+msg)
	}

	// A force-settled or failed session may never get another fetch
	// otherwise; rebuild its tree with the final status.
	if cached, ok := c.entries[sig.SessionID]; ok {
		if s, ok := c.tracker.Session(sig.SessionID); ok {
			c.trees[sig.SessionID] = tree.Build(sig.SessionID, s.Status, cached)
		}
	}

	c.syncActivity()
}

// handleRefetch maps a coordinator refetch request onto a fetch.
func (c *Controller) handleRefetch(v poll.View) {
	c.requestFetch(keyForView(v))
}

// requestFetch starts a fetch for the key unless one is already in flight,
// in which case the dirty bit re-runs it on landing.
func (c *Controller) requestFetch(key fetchKey) {
	if fl, ok := c.inflight[key]; ok {
		fl.dirty = true
		return
	}

	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	fctx, cancel := context.WithCancel(ctx)
	c.nextGen++
	gen := c.nextGen
	c.inflight[key] = &inflight{cancel: cancel, gen: gen}

	go c.fetch(fctx, key, gen)
}

// fetch performs one REST call off the loop and posts the result back.
func (c *Controller) fetch(ctx context.Context, key fetchKey, gen uint64) {
	res := fetchResult{key: key, gen: gen}
	switch key.kind {
	case fetchCascades:
		res.cascades, res.err = c.client.ListCascades(ctx)
	case fetchInstances:
		res.instances, res.err = c.client.ListInstances(ctx, key.id)
	case fetchLog:
		res.log, res.err = c.client.FetchLog(ctx, key.id)
	}
	select {
	case c.results <- res:
	case <-ctx.Done():
		// Loop gone or fetch aborted; nobody wants this result.
	}
}

// handleResult folds a landed fetch into loop state. Stale generations are
// dropped so an aborted response can never overwrite fresher state.
func (c *Controller) handleResult(res fetchResult) {
	fl, ok := c.inflight[res.key]
	if !ok || fl.gen != res.gen {
		return
	}
	dirty := fl.dirty
	fl.cancel()
	delete(c.inflight, res.key)

	if res.err != nil {
		// Transport errors recover via polling; just log.
		log.Printf("control: fetch failed: %v", res.err)
	} else {
		switch res.key.kind {
		case fetchCascades:
			c.cascades = res.cascades
		case fetchInstances:
			c.instances = res.instances
		case fetchLog:
			c.applyLog(res.key.id, res.log)
		}
	}

	if dirty {
		c.requestFetch(res.key)
	}
}

// applyLog stores a session's fetched entries, confirms a finalizing
// session when the log is queryable, and rebuilds the tree.
func (c *Controller) applyLog(sessionID string, sl api.SessionLog) {
	c.entries[sessionID] = sl.Entries

	if len(sl.Entries) > 0 {
		if s, ok := c.tracker.Session(sessionID); ok && s.Status == cascade.StatusFinalizing {
			c.tracker.OnConfirmed(sessionID)
		}
	}

	status := cascade.StatusRunning
	if s, ok := c.tracker.Session(sessionID); ok {
		status = s.Status
	}
	c.trees[sessionID] = tree.Build(sessionID, status, sl.Entries)
	c.syncActivity()
}

// syncActivity pushes the tracker's lifecycle state into the coordinator
// for the current view.
func (c *Controller) syncActivity() {
	if c.view == (poll.View{}) {
		return
	}

	var running, finalizing bool
	switch c.view.Kind {
	case poll.ViewInstanceDetail:
		if s, ok := c.tracker.Session(c.view.SessionID); ok {
			running = s.Status == cascade.StatusRunning
			finalizing = s.Status == cascade.StatusFinalizing
		}
	case poll.ViewInstanceList:
		running = c.tracker.CascadeRunning(c.view.CascadeID)
		finalizing = !running && c.anyFinalizing(c.view.CascadeID)
	case poll.ViewCascadeList:
		running = c.tracker.AnyActive()
	}
	c.coord.SetActivity(c.view, running, finalizing)
}

// anyFinalizing reports whether any tracked session of a cascade is
// awaiting confirmation.
func (c *Controller) anyFinalizing(cascadeID string) bool {
	for _, s := range c.tracker.Sessions() {
		if s.CascadeID == cascadeID && s.Status == cascade.StatusFinalizing {
			return true
		}
	}
	return false
}

// abortFetches cancels in-flight fetches belonging to a view's scope.
// Dropping the inflight entry orphans the flying generation, so its late
// result fails the lookup in handleResult and is discarded.
func (c *Controller) abortFetches(v poll.View) {
	key := keyForView(v)
	if fl, ok := c.inflight[key]; ok {
		fl.cancel()
		delete(c.inflight, key)
	}
}

// toast appends a presentation notice, keeping a bounded history.
func (c *Controller) toast(level ToastLevel, message string) {
	c.toasts = append(c.toasts, Toast{Level: level, Message: message, Time: c.clock.Now()})
	if len(c.toasts) > maxToasts {
		c.toasts = c.toasts[len(c.toasts)-maxToasts:]
	}
}

// publish copies loop state into the snapshot for readers.
func (c *Controller) publish() {
	trees := make(map[string]*tree.Tree, len(c.trees))
	for k, v := range c.trees {
		trees[k] = v
	}

	snap := Snapshot{
		Connected:   c.connected,
		View:        c.view,
		Sessions:    c.tracker.Sessions(),
		Cascades:    append([]api.CascadeSummary(nil), c.cascades...),
		Instances:   append([]api.InstanceSummary(nil), c.instances...),
		Trees:       trees,
		Checkpoints: c.checkpoints.Pending(),
		Toasts:      append([]Toast(nil), c.toasts...),
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}

// keyForView maps a view scope onto its fetch key.
func keyForView(v poll.View) fetchKey {
	switch v.Kind {
	case poll.ViewInstanceList:
		return fetchKey{kind: fetchInstances, id: v.CascadeID}
	case poll.ViewInstanceDetail:
		return fetchKey{kind: fetchLog, id: v.SessionID}
	default:
		return fetchKey{kind: fetchCascades}
	}
}
