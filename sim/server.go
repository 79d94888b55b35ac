// ABOUTME: Demo backend: chi-routed REST API plus the SSE event feed, backed by the sqlite log store.
// ABOUTME: Reproduces the production availability gap by broadcasting events before log rows land.
package sim

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/cascade"
)

// HeartbeatInterval is how often the feed emits a keepalive when idle.
const HeartbeatInterval = 10 * time.Second

// CascadeDef is one runnable demo cascade definition.
type CascadeDef struct {
	CascadeID   string
	Name        string
	Description string
	Scenario    Scenario
}

// Server is the demo backend. It serves the same REST surface and event feed
// as the production executor, driven by scripted scenarios instead of real
// model calls.
type Server struct {
	store *LogStore

	// Lag is how long a log row trails its broadcast event, reproducing
	// the production query-layer availability gap.
	Lag time.Duration

	defs []CascadeDef

	mu          sync.Mutex
	subs        map[chan []byte]struct{}
	checkpoints map[string]*pendingCheckpoint
}

// pendingCheckpoint blocks a running scenario until the human responds.
type pendingCheckpoint struct {
	cp    cascade.PendingCheckpoint
	reply chan checkpointOutcome
}

type checkpointOutcome struct {
	reply     api.CheckpointReply
	cancelled bool
}

// NewServer creates a demo server over the store with the given cascade
// definitions.
func NewServer(store *LogStore, lag time.Duration, defs []CascadeDef) *Server {
	return &Server{
		store:       store,
		Lag:         lag,
		defs:        defs,
		subs:        make(map[chan []byte]struct{}),
		checkpoints: make(map[string]*pendingCheckpoint),
	}
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/events", s.handleEvents)
	r.Get("/api/cascades", s.handleListCascades)
	r.Get("/api/cascades/{id}/instances", s.handleListInstances)
	r.Post("/api/cascades/{id}/run", s.handleRun)
	r.Get("/api/instances/{id}/log", s.handleLog)
	r.Get("/api/instances/{id}/artifacts", s.handleArtifacts)
	r.Post("/api/instances/{id}/freeze", s.handleFreeze)
	r.Post("/api/checkpoints/{id}/respond", s.handleRespond)
	r.Post("/api/checkpoints/{id}/cancel", s.handleCancel)

	return r
}

// handleEvents is the SSE feed. Each subscriber gets its own buffered channel;
// a subscriber that cannot keep up gets dropped rather than blocking the
// broadcaster.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, "data: {\"type\":\"heartbeat\"}\n\n")
			flusher.Flush()
		}
	}
}

// Broadcast pushes an event to every connected feed subscriber.
func (s *Server) Broadcast(evt cascade.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("sim: encoding event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			// Slow subscriber with a full buffer; the event is dropped
			// for it rather than stalling the run.
		}
	}
}

func (s *Server) handleListCascades(w http.ResponseWriter, r *http.Request) {
	out := make([]api.CascadeSummary, 0, len(s.defs))
	for _, def := range s.defs {
		runs, cost, last, err := s.store.CascadeStats(def.CascadeID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, api.CascadeSummary{
			CascadeID:   def.CascadeID,
			Name:        def.Name,
			Description: def.Description,
			PhaseCount:  len(def.Scenario.Phases),
			RunCount:    runs,
			TotalCost:   cost,
			LastRun:     last,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSessions(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]api.InstanceSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, api.InstanceSummary{
			SessionID:       row.SessionID,
			CascadeID:       row.CascadeID,
			ParentSessionID: row.ParentSessionID,
			Depth:           row.Depth,
			Status:          row.Status,
			StartTime:       row.StartTime,
			Cost:            row.Cost,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	entries, err := s.store.SessionEntries(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []cascade.LogEntry{}
	}
	writeJSON(w, api.SessionLog{SessionID: sessionID, Entries: entries})
}

// handleArtifacts derives a DOT diagram of the session's phase sequence. The
// demo backend has no binary artifacts to serve.
func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	entries, err := s.store.SessionEntries(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, api.ArtifactSet{
		SessionID:  sessionID,
		Artifacts:  []api.Artifact{},
		DiagramDOT: phaseDiagram(entries),
	})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "missing snapshot name", http.StatusBadRequest)
		return
	}
	if err := s.store.FreezeSnapshot(body.Name, chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	cascadeID := chi.URLParam(r, "id")
	var def *CascadeDef
	for i := range s.defs {
		if s.defs[i].CascadeID == cascadeID {
			def = &s.defs[i]
			break
		}
	}
	if def == nil {
		http.Error(w, "unknown cascade", http.StatusNotFound)
		return
	}

	sessionID := newSessionID()
	go func() {
		if err := s.runScenario(context.Background(), *def, sessionID); err != nil {
			log.Printf("sim: scenario %s/%s: %v", cascadeID, sessionID, err)
		}
	}()

	writeJSON(w, api.RunResponse{SessionID: sessionID})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var reply api.CheckpointReply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		http.Error(w, "bad reply body", http.StatusBadRequest)
		return
	}
	if !s.resolveCheckpoint(chi.URLParam(r, "id"), checkpointOutcome{reply: reply}) {
		http.Error(w, "no such pending checkpoint", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.resolveCheckpoint(chi.URLParam(r, "id"), checkpointOutcome{cancelled: true}) {
		http.Error(w, "no such pending checkpoint", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveCheckpoint delivers the outcome to the blocked scenario. Returns
// false when the checkpoint is unknown or already resolved.
func (s *Server) resolveCheckpoint(id string, outcome checkpointOutcome) bool {
	s.mu.Lock()
	pending, ok := s.checkpoints[id]
	if ok {
		delete(s.checkpoints, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	pending.reply <- outcome
	return true
}

// registerCheckpoint parks a checkpoint and broadcasts checkpoint_waiting.
func (s *Server) registerCheckpoint(cp cascade.PendingCheckpoint) chan checkpointOutcome {
	reply := make(chan checkpointOutcome, 1)
	s.mu.Lock()
	s.checkpoints[cp.ID] = &pendingCheckpoint{cp: cp, reply: reply}
	s.mu.Unlock()

	data, _ := json.Marshal(map[string]any{
		"checkpoint_id":   cp.ID,
		"checkpoint_type": cp.CheckpointType,
		"phase_name":      cp.PhaseName,
	})
	s.Broadcast(cascade.Event{
		Type:      cascade.EventCheckpointWaiting,
		SessionID: cp.SessionID,
		CascadeID: cp.CascadeID,
		Data:      data,
	})
	return reply
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("sim: encoding response: %v", err)
	}
}

// newSessionID mints a lexically sortable session ID so newest-first listings
// work by plain string ordering too.
func newSessionID() string {
	return "sess-" + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// newCheckpointID mints a checkpoint ID.
func newCheckpointID() string {
	return "cp-" + uuid.NewString()
}

// phaseDiagram renders the session's phase chain as DOT source.
func phaseDiagram(entries []cascade.LogEntry) string {
	var phases []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.PhaseName == "" || seen[e.PhaseName] {
			continue
		}
		seen[e.PhaseName] = true
		phases = append(phases, e.PhaseName)
	}

	out := "digraph session {\n  rankdir=LR;\n"
	for _, p := range phases {
		out += fmt.Sprintf("  %q;\n", p)
	}
	for i := 1; i < len(phases); i++ {
		out += fmt.Sprintf("  %q -> %q;\n", phases[i-1], phases[i])
	}
	return out + "}\n"
}
