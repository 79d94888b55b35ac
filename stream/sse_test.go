// ABOUTME: Tests for SSE frame reading: dispatch rules, multi-line data, comments, line endings.
// ABOUTME: Exercises the Reader directly over in-memory byte streams.
package stream

import (
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, input string) []Frame {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var frames []Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestReaderSingleFrame(t *testing.T) {
	frames := readAll(t, "event: cascade_start\ndata: {\"type\":\"cascade_start\"}\n\n")
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Event != "cascade_start" {
		t.Errorf("Event = %q", frames[0].Event)
	}
	if frames[0].Data != `{"type":"cascade_start"}` {
		t.Errorf("Data = %q", frames[0].Data)
	}
}

func TestReaderMultiLineData(t *testing.T) {
	frames := readAll(t, "data: line one\ndata: line two\n\n")
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Data != "line one\nline two" {
		t.Errorf("Data = %q", frames[0].Data)
	}
}

func TestReaderSkipsCommentsAndBlankRuns(t *testing.T) {
	frames := readAll(t, ": keepalive\n\n\ndata: a\n\n: another\ndata: b\n\n")
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Data != "a" || frames[1].Data != "b" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestReaderLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"lf", "data: x\n\n"},
		{"crlf", "data: x\r\n\r\n"},
		{"cr", "data: x\r\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := readAll(t, tt.input)
			if len(frames) != 1 || frames[0].Data != "x" {
				t.Errorf("frames = %+v", frames)
			}
		})
	}
}

func TestReaderUnterminatedFrameAtEOF(t *testing.T) {
	frames := readAll(t, "data: tail")
	if len(frames) != 1 || frames[0].Data != "tail" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestReaderNoSpaceAfterColon(t *testing.T) {
	frames := readAll(t, "data:compact\n\n")
	if len(frames) != 1 || frames[0].Data != "compact" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestReaderIDField(t *testing.T) {
	frames := readAll(t, "id: 42\ndata: x\n\n")
	if len(frames) != 1 || frames[0].ID != "42" {
		t.Errorf("frames = %+v", frames)
	}
}
