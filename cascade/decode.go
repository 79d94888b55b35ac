// ABOUTME: Tagged-union decoding of heterogeneous log entry metadata keyed by node type.
// ABOUTME: Each recognized tag gets an explicit decoder; unrecognized shapes fall back to Opaque.
package cascade

import (
	"encoding/json"
	"time"
)

// Detail is the decoded, type-specific payload of a log entry's metadata.
// Exactly one concrete type exists per recognized NodeType; everything else
// decodes to Opaque. Callers switch on the concrete type.
type Detail interface {
	detail()
}

// ToolCallDetail is the metadata of a tool_call entry.
type ToolCallDetail struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
}

// ToolResultDetail is the metadata of a tool_result entry.
type ToolResultDetail struct {
	ToolName   string `json:"tool_name"`
	Output     string `json:"output,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// EvaluatorDetail is the metadata of an evaluator entry: the scores assigned
// to each sounding and the selected winner, when the evaluator recorded one.
type EvaluatorDetail struct {
	Scores      []float64 `json:"scores,omitempty"`
	WinnerIndex *int      `json:"winner_index,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
}

// WardDetail is the metadata of a ward entry. Valid is nil when the ward
// recorded no verdict; Position is "pre", "post", or empty (treated as post).
type WardDetail struct {
	Name     string `json:"name,omitempty"`
	Valid    *bool  `json:"valid,omitempty"`
	Position string `json:"position,omitempty"`
	Message  string `json:"message,omitempty"`
}

// CostUpdateDetail is the metadata of a cost_update entry carrying running
// totals for the session.
type CostUpdateDetail struct {
	TotalCost float64 `json:"total_cost"`
	TokensIn  int     `json:"tokens_in,omitempty"`
	TokensOut int     `json:"tokens_out,omitempty"`
}

// ErrorDetail is the metadata of an error entry.
type ErrorDetail struct {
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// SubCascadeDetail is the metadata of sub_cascade_start/complete entries,
// linking a parent phase to the child session executing the sub-cascade.
type SubCascadeDetail struct {
	ChildSessionID string `json:"child_session_id"`
	CascadeID      string `json:"cascade_id,omitempty"`
	Depth          int    `json:"depth,omitempty"`
}

// Opaque holds metadata whose shape was not recognized. The raw bytes are
// preserved so presentation can still show something.
type Opaque struct {
	Raw json.RawMessage
}

func (ToolCallDetail) detail()   {}
func (ToolResultDetail) detail() {}
func (EvaluatorDetail) detail()  {}
func (WardDetail) detail()       {}
func (CostUpdateDetail) detail() {}
func (ErrorDetail) detail()      {}
func (SubCascadeDetail) detail() {}
func (Opaque) detail()           {}

// DecodeDetail decodes an entry's metadata according to its node type.
// Malformed or unrecognized metadata never fails: it yields Opaque.
func DecodeDetail(e LogEntry) Detail {
	raw := unwrapJSONString(e.Metadata)
	if len(raw) == 0 {
		return Opaque{}
	}

	switch e.NodeType {
	case NodeToolCall:
		var d ToolCallDetail
		if json.Unmarshal(raw, &d) == nil && d.ToolName != "" {
			return d
		}
	case NodeToolResult:
		var d ToolResultDetail
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case NodeEvaluator:
		var d EvaluatorDetail
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case NodeWard:
		var d WardDetail
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case NodeCostUpdate:
		var d CostUpdateDetail
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case NodeError:
		var d ErrorDetail
		if json.Unmarshal(raw, &d) == nil {
			return d
		}
	case NodeSubCascadeStart, NodeSubCascadeComplete:
		var d SubCascadeDetail
		if json.Unmarshal(raw, &d) == nil && d.ChildSessionID != "" {
			return d
		}
	}

	return Opaque{Raw: raw}
}

// unwrapJSONString handles the backend's habit of writing metadata as
// JSON-encoded-inside-a-string. A single level of unwrapping is applied;
// anything else is returned as-is.
func unwrapJSONString(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		return json.RawMessage(s)
	}
	return raw
}

// StartData is the payload of a cascade_start event.
type StartData struct {
	CascadeID       string    `json:"cascade_id"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	Depth           int       `json:"depth,omitempty"`
	StartTime       time.Time `json:"start_time,omitempty"`
}

// ErrorData is the payload of a cascade_error event.
type ErrorData struct {
	Message string `json:"message,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

// CheckpointData is the payload of the checkpoint_* events.
type CheckpointData struct {
	CheckpointID   string          `json:"checkpoint_id"`
	PhaseName      string          `json:"phase_name,omitempty"`
	CheckpointType CheckpointType  `json:"checkpoint_type,omitempty"`
	UISpec         json.RawMessage `json:"ui_spec,omitempty"`
	TimeoutAt      time.Time       `json:"timeout_at,omitempty"`
}

// DecodeStartData decodes the data payload of a cascade_start event.
func DecodeStartData(evt Event) (StartData, error) {
	var d StartData
	if len(evt.Data) == 0 {
		return d, nil
	}
	err := json.Unmarshal(unwrapJSONString(evt.Data), &d)
	return d, err
}

// DecodeErrorData decodes the data payload of a cascade_error event.
func DecodeErrorData(evt Event) (ErrorData, error) {
	var d ErrorData
	if len(evt.Data) == 0 {
		return d, nil
	}
	err := json.Unmarshal(unwrapJSONString(evt.Data), &d)
	return d, err
}

// DecodeCheckpointData decodes the data payload of a checkpoint_* event.
func DecodeCheckpointData(evt Event) (CheckpointData, error) {
	var d CheckpointData
	if len(evt.Data) == 0 {
		return d, nil
	}
	err := json.Unmarshal(unwrapJSONString(evt.Data), &d)
	return d, err
}
