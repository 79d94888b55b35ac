// ABOUTME: Derived execution tree types: phases, soundings, turns, tool calls, reforge steps, wards.
// ABOUTME: Built fresh by Build on every refetch; never mutated incrementally.
package tree

import (
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// PhaseStatus is the derived state of one phase.
type PhaseStatus string

const (
	PhaseCompleted PhaseStatus = "completed"
	PhaseRunning   PhaseStatus = "running"
	PhaseError     PhaseStatus = "error"
)

// TurnStatus is the derived state of one turn.
type TurnStatus string

const (
	TurnPending  TurnStatus = "pending"
	TurnComplete TurnStatus = "complete"
)

// WardOutcome classifies a ward check result.
type WardOutcome string

const (
	WardPassed  WardOutcome = "passed"
	WardFailed  WardOutcome = "failed"
	WardUnknown WardOutcome = "unknown"
)

// WardPosition is where the ward ran relative to its phase. Entries without
// explicit position metadata default to post; the backend does not always
// record it, so post-classification of a pre ward is a known ambiguity.
type WardPosition string

const (
	WardPre  WardPosition = "pre"
	WardPost WardPosition = "post"
)

// Tree is the nested execution structure folded from a session's flat log.
type Tree struct {
	SessionID string
	Phases    []*Phase
	Totals    Totals

	// MostExpensive is the single costliest entry across the session, nil
	// when no entry carries a cost. First among ties.
	MostExpensive *cascade.LogEntry
}

// Totals aggregates cost and token usage across the whole session.
// UsedCost covers direct entries, winning soundings, and reforge work;
// ExplorationCost covers losing soundings.
type Totals struct {
	Cost            float64
	UsedCost        float64
	ExplorationCost float64
	TokensIn        int
	TokensOut       int
	ByModel         map[string]ModelUsage
}

// ModelUsage is per-model cost and token totals.
type ModelUsage struct {
	Cost      float64
	TokensIn  int
	TokensOut int
}

// Phase is one stage of the cascade as reconstructed from its entries.
type Phase struct {
	Name   string
	Status PhaseStatus

	// Direct holds entries with no sounding or reforge attribution. For
	// phases without soundings this is all of them.
	Direct []cascade.LogEntry

	Soundings    []*Sounding
	ReforgeSteps []*ReforgeStep
	Wards        []WardResult
	Evaluator    *EvaluatorResult

	// WinnerIndex is the sounding index carrying is_winner, nil while no
	// decision has been recorded. Nil is distinct from "sounding 0 won".
	WinnerIndex *int

	Cost            float64
	UsedCost        float64
	ExplorationCost float64
	Duration        time.Duration
}

// Sounding is one parallel sampled attempt at a phase.
type Sounding struct {
	Index    int
	IsWinner bool
	Turns    []*Turn
	// Loose holds the sounding's entries that carry no turn number.
	Loose []cascade.LogEntry
	Cost  float64
}

// Turn is one conversational turn within a sounding or reforge attempt.
// Placeholder turns (no entries) exist for skipped indices so the UI can
// render "Turn 2" even when turn 1 produced nothing.
type Turn struct {
	Number    int
	Status    TurnStatus
	ToolCalls []ToolCall
	Duration  time.Duration
	Entries   []cascade.LogEntry
}

// ToolCall pairs a tool_call entry with its tool_result, when one arrived.
type ToolCall struct {
	Name   string
	Call   cascade.LogEntry
	Result *cascade.LogEntry
}

// ReforgeStep is one iteration of the post-selection refinement loop.
type ReforgeStep struct {
	Step     int
	Attempts []*Attempt
	Cost     float64
}

// Attempt is one sampled attempt within a reforge step.
type Attempt struct {
	Index int
	Turns []*Turn
	Loose []cascade.LogEntry
}

// WardResult is one pre/post validation check outcome.
type WardResult struct {
	Name     string
	Outcome  WardOutcome
	Position WardPosition
	Message  string
}

// EvaluatorResult is the phase evaluator's recorded decision.
type EvaluatorResult struct {
	WinnerIndex *int
	Scores      []float64
	Rationale   string
}
