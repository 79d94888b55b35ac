// ABOUTME: Scripted cascade scenarios for the demo backend: phases, soundings, reforge, wards, checkpoints.
// ABOUTME: Broadcasts feed events immediately and lands log rows after the configured lag.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/windlass-sh/masthead/cascade"
)

// Scenario scripts one cascade run phase by phase.
type Scenario struct {
	Phases []PhaseScript
}

// PhaseScript scripts a single phase. Soundings == 0 means a direct phase.
// A non-empty FailWith aborts the run at the end of the phase with that
// error message.
type PhaseScript struct {
	Name         string
	Soundings    int
	Winner       int
	Turns        int
	Tools        []string
	ReforgeSteps int
	Wards        bool
	Checkpoint   cascade.CheckpointType
	FailWith     string
	Model        string
	CostPerTurn  float64
	StepDelay    time.Duration
}

// checkpointTimeout bounds how long a scenario waits for a human response
// before proceeding with the default.
const checkpointTimeout = 60 * time.Second

// runScenario replays one scripted run: session row first, then events and
// lagged log rows, then the completion event while the tail rows are still
// in flight. The session is only marked settled once every row has landed.
func (s *Server) runScenario(ctx context.Context, def CascadeDef, sessionID string) error {
	now := time.Now()
	err := s.store.CreateSession(cascade.Session{
		SessionID: sessionID,
		CascadeID: def.CascadeID,
		Status:    cascade.StatusRunning,
		StartTime: now,
	})
	if err != nil {
		return err
	}

	var g errgroup.Group
	emit := func(e cascade.LogEntry) {
		e.Timestamp = time.Now()
		s.broadcastProgress(def.CascadeID, sessionID, e)
		g.Go(func() error {
			time.Sleep(s.Lag)
			return s.store.AppendEntry(sessionID, e)
		})
	}

	s.Broadcast(cascade.Event{
		Type:      cascade.EventCascadeStart,
		SessionID: sessionID,
		CascadeID: def.CascadeID,
		Data:      mustJSON(map[string]any{"start_time": now}),
	})
	emit(cascade.LogEntry{NodeType: cascade.NodeCascade, Content: def.Name})

	failed := false
	for _, phase := range def.Scenario.Phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.runPhase(def, sessionID, phase, emit); phase.FailWith != "" {
			failed = true
			break
		}
	}

	if failed {
		if err := g.Wait(); err != nil {
			return fmt.Errorf("landing log rows: %w", err)
		}
		return s.store.SetSessionStatus(sessionID, string(cascade.StatusFailed))
	}

	// Completion goes out while tail rows may still be in flight. This is
	// the gap the dashboard's finalizing state exists for.
	s.Broadcast(cascade.Event{
		Type:      cascade.EventCascadeComplete,
		SessionID: sessionID,
		CascadeID: def.CascadeID,
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("landing log rows: %w", err)
	}
	return s.store.SetSessionStatus(sessionID, string(cascade.StatusSettled))
}

func (s *Server) runPhase(def CascadeDef, sessionID string, phase PhaseScript, emit func(cascade.LogEntry)) {
	pace := phase.StepDelay

	emit(cascade.LogEntry{NodeType: cascade.NodePhaseStart, PhaseName: phase.Name})
	sleep(pace)

	if phase.Soundings > 0 {
		for i := 0; i < phase.Soundings; i++ {
			idx := i
			winner := idx == phase.Winner
			s.emitTurns(phase, &idx, nil, winner, emit)
			sleep(pace)
		}
		scores := make([]float64, phase.Soundings)
		for i := range scores {
			scores[i] = 0.5
		}
		scores[phase.Winner] = 0.9
		emit(cascade.LogEntry{
			NodeType:  cascade.NodeEvaluator,
			PhaseName: phase.Name,
			Model:     phase.Model,
			Cost:      phase.CostPerTurn / 2,
			Metadata: mustJSON(map[string]any{
				"scores":       scores,
				"winner_index": phase.Winner,
				"rationale":    "strongest coverage of the prompt",
			}),
		})
	} else {
		s.emitTurns(phase, nil, nil, false, emit)
	}

	for step := 0; step < phase.ReforgeSteps; step++ {
		st := step
		s.emitTurns(phase, nil, &st, false, emit)
		sleep(pace)
	}

	if phase.Wards {
		valid := true
		emit(cascade.LogEntry{
			NodeType:  cascade.NodeWard,
			PhaseName: phase.Name,
			Metadata: mustJSON(map[string]any{
				"name":     "schema-check",
				"valid":    valid,
				"position": "post",
			}),
		})
	}

	if phase.Checkpoint != "" {
		s.waitCheckpoint(def, sessionID, phase)
	}

	if phase.FailWith != "" {
		emit(cascade.LogEntry{
			NodeType:  cascade.NodeError,
			PhaseName: phase.Name,
			Content:   phase.FailWith,
			Metadata:  mustJSON(map[string]any{"message": phase.FailWith, "fatal": true}),
		})
		s.Broadcast(cascade.Event{
			Type:      cascade.EventCascadeError,
			SessionID: sessionID,
			CascadeID: def.CascadeID,
			Data:      mustJSON(map[string]any{"message": phase.FailWith, "phase": phase.Name}),
		})
		return
	}

	emit(cascade.LogEntry{NodeType: cascade.NodePhaseComplete, PhaseName: phase.Name})
}

// emitTurns emits the assistant/tool entries for one attempt: a direct phase,
// one sounding, or one reforge step.
func (s *Server) emitTurns(phase PhaseScript, sounding, reforge *int, winner bool, emit func(cascade.LogEntry)) {
	turns := phase.Turns
	if turns <= 0 {
		turns = 1
	}
	for t := 0; t < turns; t++ {
		turn := t
		for _, tool := range phase.Tools {
			emit(cascade.LogEntry{
				NodeType:      cascade.NodeToolCall,
				PhaseName:     phase.Name,
				SoundingIndex: sounding,
				ReforgeStep:   reforge,
				TurnNumber:    &turn,
				IsWinner:      winner,
				Metadata:      mustJSON(map[string]any{"tool_name": tool, "args": map[string]any{}}),
			})
			emit(cascade.LogEntry{
				NodeType:      cascade.NodeToolResult,
				PhaseName:     phase.Name,
				SoundingIndex: sounding,
				ReforgeStep:   reforge,
				TurnNumber:    &turn,
				IsWinner:      winner,
				Metadata:      mustJSON(map[string]any{"tool_name": tool, "output": "ok", "duration_ms": 40}),
			})
		}
		emit(cascade.LogEntry{
			NodeType:      cascade.NodeAssistant,
			PhaseName:     phase.Name,
			SoundingIndex: sounding,
			ReforgeStep:   reforge,
			TurnNumber:    &turn,
			IsWinner:      winner,
			Model:         phase.Model,
			Cost:          phase.CostPerTurn,
			TokensIn:      900,
			TokensOut:     350,
			DurationMS:    1200,
			Content:       fmt.Sprintf("%s: turn %d output", phase.Name, turn),
		})
	}
}

// waitCheckpoint blocks the scenario on a human response, with a timeout
// default so unattended demos still finish.
func (s *Server) waitCheckpoint(def CascadeDef, sessionID string, phase PhaseScript) {
	cp := cascade.PendingCheckpoint{
		ID:             newCheckpointID(),
		SessionID:      sessionID,
		CascadeID:      def.CascadeID,
		PhaseName:      phase.Name,
		CheckpointType: phase.Checkpoint,
	}
	reply := s.registerCheckpoint(cp)

	select {
	case outcome := <-reply:
		evtType := cascade.EventCheckpointResponded
		if outcome.cancelled {
			evtType = cascade.EventCheckpointCancelled
		}
		s.Broadcast(cascade.Event{
			Type:      evtType,
			SessionID: sessionID,
			CascadeID: def.CascadeID,
			Data:      mustJSON(map[string]any{"checkpoint_id": cp.ID}),
		})
	case <-time.After(checkpointTimeout):
		s.resolveCheckpoint(cp.ID, checkpointOutcome{cancelled: true})
		s.Broadcast(cascade.Event{
			Type:      cascade.EventCheckpointTimeout,
			SessionID: sessionID,
			CascadeID: def.CascadeID,
			Data:      mustJSON(map[string]any{"checkpoint_id": cp.ID}),
		})
	}
}

// broadcastProgress maps a log entry to its feed event, when one exists.
// Entries without a feed equivalent only land in the persisted log.
func (s *Server) broadcastProgress(cascadeID, sessionID string, e cascade.LogEntry) {
	var t cascade.EventType
	switch e.NodeType {
	case cascade.NodePhaseStart:
		t = cascade.EventPhaseStart
	case cascade.NodePhaseComplete:
		t = cascade.EventPhaseComplete
	case cascade.NodeToolCall:
		t = cascade.EventToolCall
	case cascade.NodeToolResult:
		t = cascade.EventToolResult
	case cascade.NodeAssistant:
		t = cascade.EventCostUpdate
	default:
		return
	}
	s.Broadcast(cascade.Event{
		Type:      t,
		SessionID: sessionID,
		CascadeID: cascadeID,
		Data:      mustJSON(map[string]any{"phase_name": e.PhaseName, "cost": e.Cost}),
	})
}

// DefaultCascades returns the built-in demo definitions.
func DefaultCascades() []CascadeDef {
	return []CascadeDef{
		{
			CascadeID:   "research-brief",
			Name:        "Research Brief",
			Description: "Plan, draft with soundings, polish with reforge",
			Scenario: Scenario{
				Phases: []PhaseScript{
					{Name: "Plan", Turns: 1, Model: "pathfinder-mini", CostPerTurn: 0.02, StepDelay: 300 * time.Millisecond},
					{Name: "Draft", Soundings: 3, Winner: 1, Turns: 2, Tools: []string{"web_search"},
						Model: "pathfinder-large", CostPerTurn: 0.15, StepDelay: 300 * time.Millisecond},
					{Name: "Polish", ReforgeSteps: 2, Turns: 1, Wards: true,
						Model: "pathfinder-large", CostPerTurn: 0.10, StepDelay: 300 * time.Millisecond},
				},
			},
		},
		{
			CascadeID:   "flaky-ingest",
			Name:        "Flaky Ingest",
			Description: "Fails mid-run to exercise error handling",
			Scenario: Scenario{
				Phases: []PhaseScript{
					{Name: "Ingest", Turns: 1, Model: "pathfinder-mini", CostPerTurn: 0.01,
						FailWith: "upstream source unreachable", StepDelay: 200 * time.Millisecond},
				},
			},
		},
		{
			CascadeID:   "reviewed-summary",
			Name:        "Reviewed Summary",
			Description: "Single-phase summary gated on a human confirmation",
			Scenario: Scenario{
				Phases: []PhaseScript{
					{Name: "Summarize", Turns: 1, Model: "pathfinder-mini", CostPerTurn: 0.03,
						Checkpoint: cascade.CheckpointConfirmation, StepDelay: 200 * time.Millisecond},
				},
			},
		},
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("sim: encoding payload: %v", err)
		return nil
	}
	return data
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
