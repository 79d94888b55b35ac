// ABOUTME: Bottom status bar: feed connectivity, active session counts, and the latest toast.
// ABOUTME: Pure formatting over the snapshot; one line, truncated to the terminal width.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/windlass-sh/masthead/cascade"
	"github.com/windlass-sh/masthead/control"
)

// RenderStatusBar formats the one-line status strip.
func RenderStatusBar(snap control.Snapshot, width int) string {
	conn := FailedStyle.Render("○ polling")
	if snap.Connected {
		conn = SettledStyle.Render("● live")
	}

	running, finalizing := 0, 0
	for _, s := range snap.Sessions {
		switch s.Status {
		case cascade.StatusRunning:
			running++
		case cascade.StatusFinalizing:
			finalizing++
		}
	}
	counts := fmt.Sprintf("%d running, %d finalizing", running, finalizing)

	line := conn + "  " + counts
	if len(snap.Toasts) > 0 {
		last := snap.Toasts[len(snap.Toasts)-1]
		line += "  " + styleForToast(last.Level).Render(last.Message)
	}

	if width < 0 {
		width = 0
	}
	return StatusBarStyle.Width(width).Render(line)
}

func styleForToast(level control.ToastLevel) lipgloss.Style {
	switch level {
	case control.ToastError:
		return ToastErrorStyle
	case control.ToastWarn:
		return ToastWarnStyle
	default:
		return ToastInfoStyle
	}
}
