// ABOUTME: Top-level Bubble Tea AppModel for the dashboard: cascade list, instance list, and detail views.
// ABOUTME: Implements tea.Model (Init, Update, View) over control snapshots; commands go back through the controller.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/windlass-sh/masthead/api"
	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/control"
	"github.com/windlass-sh/masthead/poll"
)

// AppModel is the top-level Bubble Tea model. All display state derives from
// the latest controller snapshot; key handlers issue controller commands and
// never mutate domain state directly.
type AppModel struct {
	ctrl *control.Controller
	snap control.Snapshot

	view       poll.View
	cursor     int
	checkpoint CheckpointModel
	spin       spinner.Model

	width  int
	height int
}

// NewAppModel creates the app rooted at the cascade list view.
func NewAppModel(ctrl *control.Controller) AppModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return AppModel{
		ctrl:       ctrl,
		view:       poll.View{Kind: poll.ViewCascadeList},
		checkpoint: NewCheckpointModel(),
		spin:       sp,
	}
}

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	m.ctrl.SetView(m.view)
	return tea.Batch(SnapshotCmd(m.ctrl), TickCmd(), m.spin.Tick)
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.snap = msg.Snap
		m.clampCursor()
		return m, nil

	case TickMsg:
		return m, tea.Batch(SnapshotCmd(m.ctrl), TickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.checkpoint.IsActive() {
		if msg.String() == "esc" {
			m.checkpoint.Deactivate()
			return m, nil
		}
		cp, reply := m.checkpoint.Update(msg)
		m.checkpoint = cp
		if reply != nil {
			m.ctrl.RespondCheckpoint(m.checkpoint.CheckpointID(), *reply)
			m.checkpoint.Deactivate()
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		m.cursor = clamp(m.cursor-1, 0, m.rowCount()-1)
	case "down", "j":
		m.cursor = clamp(m.cursor+1, 0, m.rowCount()-1)
	case "enter":
		return m.drillIn()
	case "esc":
		return m.drillOut()
	case "r":
		if m.view.Kind == poll.ViewCascadeList && m.cursor < len(m.snap.Cascades) {
			m.ctrl.RunCascade(m.snap.Cascades[m.cursor].CascadeID, nil)
		}
	case "c":
		if len(m.snap.Checkpoints) > 0 {
			m.checkpoint.Activate(m.snap.Checkpoints[0])
		}
	case "f":
		if m.view.Kind == poll.ViewInstanceDetail {
			m.ctrl.FreezeSession(m.view.SessionID, "frozen-"+m.view.SessionID)
		}
	}
	return m, nil
}

// drillIn descends cascade list -> instance list -> instance detail.
func (m AppModel) drillIn() (tea.Model, tea.Cmd) {
	switch m.view.Kind {
	case poll.ViewCascadeList:
		if m.cursor < len(m.snap.Cascades) {
			m.setView(poll.View{Kind: poll.ViewInstanceList, CascadeID: m.snap.Cascades[m.cursor].CascadeID})
		}
	case poll.ViewInstanceList:
		if m.cursor < len(m.snap.Instances) {
			inst := m.snap.Instances[m.cursor]
			m.setView(poll.View{Kind: poll.ViewInstanceDetail, CascadeID: inst.CascadeID, SessionID: inst.SessionID})
		}
	}
	return m, nil
}

func (m AppModel) drillOut() (tea.Model, tea.Cmd) {
	switch m.view.Kind {
	case poll.ViewInstanceDetail:
		m.setView(poll.View{Kind: poll.ViewInstanceList, CascadeID: m.view.CascadeID})
	case poll.ViewInstanceList:
		m.setView(poll.View{Kind: poll.ViewCascadeList})
	}
	return m, nil
}

func (m *AppModel) setView(v poll.View) {
	m.view = v
	m.cursor = 0
	m.ctrl.SetView(v)
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var body string
	switch m.view.Kind {
	case poll.ViewCascadeList:
		body = m.viewCascadeList()
	case poll.ViewInstanceList:
		body = m.viewInstanceList()
	case poll.ViewInstanceDetail:
		body = m.viewDetail()
	}

	if m.checkpoint.IsActive() {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.checkpoint.View())
	}

	return body + "\n" + RenderStatusBar(m.snap, m.width)
}

func (m AppModel) viewCascadeList() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Cascades") + "\n")
	for i, c := range m.snap.Cascades {
		line := fmt.Sprintf("%-24s %d runs  $%.4f", c.Name, c.RunCount, c.TotalCost)
		if m.ctrl != nil && m.anyRunning(c.CascadeID) {
			line = m.spin.View() + " " + line
		}
		b.WriteString(listLine(i == m.cursor, line) + "\n")
	}
	if len(m.snap.Cascades) == 0 {
		b.WriteString(DimStyle.Render("no cascades") + "\n")
	}
	b.WriteString(DimStyle.Render("enter opens, r runs, q quits"))
	return b.String()
}

func (m AppModel) viewInstanceList() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Instances of "+m.view.CascadeID) + "\n")
	for i, inst := range m.snap.Instances {
		status := m.instanceStatus(inst)
		indent := strings.Repeat("  ", inst.Depth)
		line := fmt.Sprintf("%s%-28s %s  $%.4f", indent, inst.SessionID,
			StyleForSessionStatus(status).Render(string(status)), inst.Cost)
		b.WriteString(listLine(i == m.cursor, line) + "\n")
	}
	if len(m.snap.Instances) == 0 {
		b.WriteString(DimStyle.Render("no runs yet") + "\n")
	}
	return b.String()
}

func (m AppModel) viewDetail() string {
	var b strings.Builder
	header := m.view.SessionID
	if sess, ok := m.session(m.view.SessionID); ok {
		header += "  " + StyleForSessionStatus(sess.Status).Render(string(sess.Status))
		if sess.Status == cascade.StatusRunning || sess.Status == cascade.StatusFinalizing {
			header = m.spin.View() + " " + header
		}
	}
	b.WriteString(TitleStyle.Render(header) + "\n")
	b.WriteString(RenderTree(m.snap.Trees[m.view.SessionID]))
	if n := len(m.snap.Checkpoints); n > 0 {
		b.WriteString(ToastWarnStyle.Render(fmt.Sprintf("%d checkpoint(s) waiting, press c", n)) + "\n")
	}
	return b.String()
}

// instanceStatus prefers the tracker's lifecycle state over the listing's
// backend-reported one, so finalizing shows up in the instance list.
func (m AppModel) instanceStatus(inst api.InstanceSummary) cascade.SessionStatus {
	if sess, ok := m.session(inst.SessionID); ok {
		return sess.Status
	}
	return cascade.SessionStatus(inst.Status)
}

func (m AppModel) session(id string) (cascade.Session, bool) {
	for _, s := range m.snap.Sessions {
		if s.SessionID == id {
			return s, true
		}
	}
	return cascade.Session{}, false
}

func (m AppModel) anyRunning(cascadeID string) bool {
	for _, s := range m.snap.Sessions {
		if s.CascadeID == cascadeID &&
			(s.Status == cascade.StatusRunning || s.Status == cascade.StatusFinalizing) {
			return true
		}
	}
	return false
}

func (m AppModel) rowCount() int {
	switch m.view.Kind {
	case poll.ViewCascadeList:
		return len(m.snap.Cascades)
	case poll.ViewInstanceList:
		return len(m.snap.Instances)
	}
	return 0
}

func (m *AppModel) clampCursor() {
	m.cursor = clamp(m.cursor, 0, max(m.rowCount()-1, 0))
}
