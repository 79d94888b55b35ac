// ABOUTME: Checkpoint prompt model: renders the pending question and collects the human response.
// ABOUTME: Response widgets vary by checkpoint type; free text uses a bubbles textinput.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/cascade"
)

// maxRating bounds the rating widget.
const maxRating = 5

// CheckpointModel is the modal prompt for one pending checkpoint.
type CheckpointModel struct {
	active bool
	cp     cascade.PendingCheckpoint

	choices []string
	cursor  int
	picked  map[int]bool
	rating  int
	input   textinput.Model
}

// NewCheckpointModel creates an inactive prompt.
func NewCheckpointModel() CheckpointModel {
	ti := textinput.New()
	ti.Placeholder = "type your response"
	ti.CharLimit = 500
	return CheckpointModel{input: ti, rating: 3, picked: make(map[int]bool)}
}

// Activate shows the prompt for the given checkpoint.
func (m *CheckpointModel) Activate(cp cascade.PendingCheckpoint) {
	m.active = true
	m.cp = cp
	m.cursor = 0
	m.rating = 3
	m.picked = make(map[int]bool)
	m.choices = decodeChoices(cp)
	m.input.SetValue("")
	if cp.CheckpointType == cascade.CheckpointFreeText {
		m.input.Focus()
	}
}

// Deactivate hides the prompt.
func (m *CheckpointModel) Deactivate() {
	m.active = false
	m.input.Blur()
}

// IsActive reports whether the prompt is showing.
func (m CheckpointModel) IsActive() bool { return m.active }

// CheckpointID is the ID of the checkpoint being prompted for.
func (m CheckpointModel) CheckpointID() string { return m.cp.ID }

// Update handles one key while the prompt is active. A nil reply means the
// prompt is still collecting input; a non-nil reply is ready to submit.
func (m CheckpointModel) Update(msg tea.KeyMsg) (CheckpointModel, *api.CheckpointReply) {
	if !m.active {
		return m, nil
	}

	switch m.cp.CheckpointType {
	case cascade.CheckpointFreeText:
		if msg.Type == tea.KeyEnter {
			return m, &api.CheckpointReply{Value: m.input.Value()}
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		_ = cmd
		return m, nil

	case cascade.CheckpointRating:
		switch msg.String() {
		case "left", "h":
			if m.rating > 1 {
				m.rating--
			}
		case "right", "l":
			if m.rating < maxRating {
				m.rating++
			}
		case "enter":
			return m, &api.CheckpointReply{Rating: m.rating}
		}
		return m, nil

	case cascade.CheckpointMultiChoice:
		switch msg.String() {
		case "up", "k":
			m.cursor = clamp(m.cursor-1, 0, len(m.choices)-1)
		case "down", "j":
			m.cursor = clamp(m.cursor+1, 0, len(m.choices)-1)
		case " ":
			m.picked[m.cursor] = !m.picked[m.cursor]
		case "enter":
			var sel []string
			for i, c := range m.choices {
				if m.picked[i] {
					sel = append(sel, c)
				}
			}
			return m, &api.CheckpointReply{Choices: sel}
		}
		return m, nil

	default: // confirmation and choice share the single-pick list
		switch msg.String() {
		case "up", "k":
			m.cursor = clamp(m.cursor-1, 0, len(m.choices)-1)
		case "down", "j":
			m.cursor = clamp(m.cursor+1, 0, len(m.choices)-1)
		case "enter":
			if len(m.choices) == 0 {
				return m, &api.CheckpointReply{}
			}
			return m, &api.CheckpointReply{Value: m.choices[m.cursor]}
		}
		return m, nil
	}
}

// View renders the prompt box.
func (m CheckpointModel) View() string {
	if !m.active {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("checkpoint: %s", m.cp.PhaseName)) + "\n")

	switch m.cp.CheckpointType {
	case cascade.CheckpointFreeText:
		b.WriteString(m.input.View())
	case cascade.CheckpointRating:
		for i := 1; i <= maxRating; i++ {
			if i <= m.rating {
				b.WriteString("★")
			} else {
				b.WriteString("☆")
			}
		}
		b.WriteString(DimStyle.Render("  ←/→ adjust, enter to submit"))
	case cascade.CheckpointMultiChoice:
		for i, c := range m.choices {
			mark := "[ ]"
			if m.picked[i] {
				mark = "[x]"
			}
			b.WriteString(listLine(i == m.cursor, mark+" "+c) + "\n")
		}
		b.WriteString(DimStyle.Render("space toggles, enter submits"))
	default:
		for i, c := range m.choices {
			b.WriteString(listLine(i == m.cursor, c) + "\n")
		}
	}

	return CheckpointStyle.Render(b.String())
}

// decodeChoices pulls the option list out of the checkpoint's UI spec,
// falling back to sensible defaults per type.
func decodeChoices(cp cascade.PendingCheckpoint) []string {
	var spec struct {
		Choices []string `json:"choices"`
	}
	if len(cp.UISpec) > 0 {
		_ = json.Unmarshal(cp.UISpec, &spec)
	}
	if len(spec.Choices) > 0 {
		return spec.Choices
	}
	if cp.CheckpointType == cascade.CheckpointConfirmation {
		return []string{"approve", "reject"}
	}
	return nil
}

func listLine(selected bool, text string) string {
	if selected {
		return TitleStyle.Render("> " + text)
	}
	return "  " + text
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
