// ABOUTME: Bridge connecting the control loop to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories that poll snapshots and drive the refresh tick.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/windlass-sh/masthead/control"
)

// refreshInterval is how often the TUI pulls a fresh snapshot. The control
// loop publishes continuously; polling its snapshot is race-free and keeps
// the TUI decoupled from loop internals.
const refreshInterval = 100 * time.Millisecond

// TickCmd returns a tea.Cmd that sends a TickMsg after the refresh interval.
func TickCmd() tea.Cmd {
	return func() tea.Msg {
		time.Sleep(refreshInterval)
		return TickMsg{Time: time.Now()}
	}
}

// SnapshotCmd returns a tea.Cmd that reads the controller's current snapshot.
func SnapshotCmd(ctrl *control.Controller) tea.Cmd {
	return func() tea.Msg {
		return SnapshotMsg{Snap: ctrl.Snapshot()}
	}
}
