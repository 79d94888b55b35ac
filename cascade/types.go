// ABOUTME: Core domain types for the Windlass dashboard: log entries, stream events, and sessions.
// ABOUTME: Mirrors the backend's wire shapes; all higher layers consume these types.
package cascade

import (
	"encoding/json"
	"time"
)

// NodeType identifies the kind of a log entry in a session's execution log.
type NodeType string

const (
	NodeCascade            NodeType = "cascade"
	NodePhaseStart         NodeType = "phase_start"
	NodePhaseComplete      NodeType = "phase_complete"
	NodeToolCall           NodeType = "tool_call"
	NodeToolResult         NodeType = "tool_result"
	NodeAssistant          NodeType = "assistant"
	NodeEvaluator          NodeType = "evaluator"
	NodeWard               NodeType = "ward"
	NodeError              NodeType = "error"
	NodeSubCascadeStart    NodeType = "sub_cascade_start"
	NodeSubCascadeComplete NodeType = "sub_cascade_complete"
	NodeCostUpdate         NodeType = "cost_update"
)

// LogEntry is one append-only record written during a session's execution.
// Entries are totally ordered by Timestamp within a session. SoundingIndex,
// ReforgeStep, and TurnNumber are nullable: nil means the entry is not
// attributed to a sounding / reforge step / turn.
type LogEntry struct {
	NodeType      NodeType        `json:"node_type"`
	PhaseName     string          `json:"phase_name,omitempty"`
	SoundingIndex *int            `json:"sounding_index,omitempty"`
	ReforgeStep   *int            `json:"reforge_step,omitempty"`
	TurnNumber    *int            `json:"turn_number,omitempty"`
	IsWinner      bool            `json:"is_winner,omitempty"`
	Model         string          `json:"model,omitempty"`
	Cost          float64         `json:"cost,omitempty"`
	TokensIn      int             `json:"tokens_in,omitempty"`
	TokensOut     int             `json:"tokens_out,omitempty"`
	DurationMS    int64           `json:"duration_ms,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Content       string          `json:"content,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// EventType identifies a lifecycle event on the backend's push feed.
type EventType string

const (
	EventHeartbeat           EventType = "heartbeat"
	EventCascadeStart        EventType = "cascade_start"
	EventPhaseStart          EventType = "phase_start"
	EventPhaseComplete       EventType = "phase_complete"
	EventToolCall            EventType = "tool_call"
	EventToolResult          EventType = "tool_result"
	EventCostUpdate          EventType = "cost_update"
	EventCascadeComplete     EventType = "cascade_complete"
	EventCascadeError        EventType = "cascade_error"
	EventCheckpointWaiting   EventType = "checkpoint_waiting"
	EventCheckpointResponded EventType = "checkpoint_responded"
	EventCheckpointCancelled EventType = "checkpoint_cancelled"
	EventCheckpointTimeout   EventType = "checkpoint_timeout"
)

// Event is one message from the backend event feed. Unknown Type values must
// be tolerated by consumers: the feed is forward-compatible.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	CascadeID string          `json:"cascade_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionStatus is the dashboard-side lifecycle state of a session.
type SessionStatus string

const (
	// StatusRunning: a cascade_start was observed and no terminal event yet.
	StatusRunning SessionStatus = "running"
	// StatusFinalizing: the feed reported completion but the persisted log
	// has not yet confirmed it (the SQL availability gap).
	StatusFinalizing SessionStatus = "finalizing"
	// StatusSettled: completion confirmed by the query layer, or forced
	// after the finalize grace period elapsed.
	StatusSettled SessionStatus = "settled"
	// StatusFailed: a cascade_error was observed. Failures never pass
	// through finalizing.
	StatusFailed SessionStatus = "failed"
)

// Session is one runtime execution of a cascade definition as tracked by the
// dashboard. A session with Depth > 0 always has a non-empty ParentSessionID.
type Session struct {
	SessionID       string        `json:"session_id"`
	CascadeID       string        `json:"cascade_id"`
	ParentSessionID string        `json:"parent_session_id,omitempty"`
	Depth           int           `json:"depth"`
	StartTime       time.Time     `json:"start_time"`
	Status          SessionStatus `json:"status"`
	// Forced is true when the session was settled by the grace-period timer
	// rather than by query-layer confirmation.
	Forced bool `json:"forced,omitempty"`
}

// CheckpointType enumerates the input widget a checkpoint asks the human for.
type CheckpointType string

const (
	CheckpointConfirmation CheckpointType = "confirmation"
	CheckpointChoice       CheckpointType = "choice"
	CheckpointMultiChoice  CheckpointType = "multi_choice"
	CheckpointRating       CheckpointType = "rating"
	CheckpointFreeText     CheckpointType = "free_text"
)

// PendingCheckpoint is a human-in-the-loop pause request awaiting a response.
type PendingCheckpoint struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	CascadeID      string          `json:"cascade_id"`
	PhaseName      string          `json:"phase_name,omitempty"`
	CheckpointType CheckpointType  `json:"checkpoint_type"`
	UISpec         json.RawMessage `json:"ui_spec,omitempty"`
	TimeoutAt      time.Time       `json:"timeout_at,omitempty"`
}
