// ABOUTME: Tests for tagged-union metadata decoding across node types.
// ABOUTME: Covers recognized tags, JSON-in-string unwrapping, and the Opaque fallback.
package cascade

import (
	"encoding/json"
	"testing"
)

func TestDecodeDetailToolCall(t *testing.T) {
	e := LogEntry{
		NodeType: NodeToolCall,
		Metadata: json.RawMessage(`{"tool_name":"web_search","args":{"query":"tides"}}`),
	}
	d, ok := DecodeDetail(e).(ToolCallDetail)
	if !ok {
		t.Fatalf("expected ToolCallDetail, got %T", DecodeDetail(e))
	}
	if d.ToolName != "web_search" {
		t.Errorf("ToolName = %q, want web_search", d.ToolName)
	}
	if d.Args["query"] != "tides" {
		t.Errorf("Args[query] = %v, want tides", d.Args["query"])
	}
}

func TestDecodeDetailWardVerdicts(t *testing.T) {
	tests := []struct {
		name      string
		metadata  string
		wantValid *bool
		wantPos   string
	}{
		{"passed", `{"name":"schema","valid":true,"position":"pre"}`, boolPtr(true), "pre"},
		{"failed", `{"name":"schema","valid":false}`, boolPtr(false), ""},
		{"absent verdict", `{"name":"schema"}`, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := LogEntry{NodeType: NodeWard, Metadata: json.RawMessage(tt.metadata)}
			d, ok := DecodeDetail(e).(WardDetail)
			if !ok {
				t.Fatalf("expected WardDetail, got %T", DecodeDetail(e))
			}
			if (d.Valid == nil) != (tt.wantValid == nil) {
				t.Fatalf("Valid nil-ness = %v, want %v", d.Valid == nil, tt.wantValid == nil)
			}
			if d.Valid != nil && *d.Valid != *tt.wantValid {
				t.Errorf("Valid = %v, want %v", *d.Valid, *tt.wantValid)
			}
			if d.Position != tt.wantPos {
				t.Errorf("Position = %q, want %q", d.Position, tt.wantPos)
			}
		})
	}
}

func TestDecodeDetailJSONInString(t *testing.T) {
	// The backend sometimes double-encodes metadata as a JSON string.
	e := LogEntry{
		NodeType: NodeEvaluator,
		Metadata: json.RawMessage(`"{\"scores\":[0.2,0.9],\"winner_index\":1}"`),
	}
	d, ok := DecodeDetail(e).(EvaluatorDetail)
	if !ok {
		t.Fatalf("expected EvaluatorDetail, got %T", DecodeDetail(e))
	}
	if d.WinnerIndex == nil || *d.WinnerIndex != 1 {
		t.Errorf("WinnerIndex = %v, want 1", d.WinnerIndex)
	}
	if len(d.Scores) != 2 || d.Scores[1] != 0.9 {
		t.Errorf("Scores = %v, want [0.2 0.9]", d.Scores)
	}
}

func TestDecodeDetailOpaqueFallback(t *testing.T) {
	tests := []struct {
		name     string
		nodeType NodeType
		metadata string
	}{
		{"unknown node type", NodeType("future_thing"), `{"anything":1}`},
		{"malformed metadata", NodeToolCall, `{"tool_name":`},
		{"wrong shape", NodeToolCall, `{"not_a_tool":true}`},
		{"plain string metadata", NodeAssistant, `"just a note"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := LogEntry{NodeType: tt.nodeType, Metadata: json.RawMessage(tt.metadata)}
			if _, ok := DecodeDetail(e).(Opaque); !ok {
				t.Errorf("expected Opaque for %s, got %T", tt.name, DecodeDetail(e))
			}
		})
	}
}

func TestDecodeDetailEmptyMetadata(t *testing.T) {
	e := LogEntry{NodeType: NodeAssistant}
	if _, ok := DecodeDetail(e).(Opaque); !ok {
		t.Errorf("expected Opaque for empty metadata, got %T", DecodeDetail(e))
	}
}

func TestDecodeCheckpointData(t *testing.T) {
	evt := Event{
		Type:      EventCheckpointWaiting,
		SessionID: "s1",
		Data:      json.RawMessage(`{"checkpoint_id":"cp-1","phase_name":"review","checkpoint_type":"choice"}`),
	}
	d, err := DecodeCheckpointData(evt)
	if err != nil {
		t.Fatalf("DecodeCheckpointData: %v", err)
	}
	if d.CheckpointID != "cp-1" || d.CheckpointType != CheckpointChoice {
		t.Errorf("got %+v", d)
	}
}

func TestDecodeStartData(t *testing.T) {
	evt := Event{
		Type:      EventCascadeStart,
		SessionID: "child",
		CascadeID: "casc",
		Data:      json.RawMessage(`{"cascade_id":"casc","parent_session_id":"parent","depth":1}`),
	}
	d, err := DecodeStartData(evt)
	if err != nil {
		t.Fatalf("DecodeStartData: %v", err)
	}
	if d.ParentSessionID != "parent" || d.Depth != 1 {
		t.Errorf("got %+v", d)
	}
}

func boolPtr(b bool) *bool { return &b }
