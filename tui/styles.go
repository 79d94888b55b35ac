// ABOUTME: Defines lipgloss style constants for the dashboard panels, session status colors, and toasts.
// ABOUTME: Provides StyleForSessionStatus to map lifecycle states to display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/windlass-sh/masthead/cascade"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	// Title styling
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Session lifecycle colors
	RunningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	FinalizingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	SettledStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	DimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	// Tree rendering
	WinnerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	ExplorationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	CostStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	// Toasts
	ToastInfoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	ToastWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ToastErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	// Checkpoint prompt
	CheckpointStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(1, 2)
)

// StyleForSessionStatus returns the display style for a session lifecycle state.
func StyleForSessionStatus(status cascade.SessionStatus) lipgloss.Style {
	switch status {
	case cascade.StatusRunning:
		return RunningStyle
	case cascade.StatusFinalizing:
		return FinalizingStyle
	case cascade.StatusSettled:
		return SettledStyle
	case cascade.StatusFailed:
		return FailedStyle
	default:
		return DimStyle
	}
}
