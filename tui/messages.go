// ABOUTME: Bubble Tea message types bridging the control loop into the TUI message loop.
// ABOUTME: Snapshots arrive on a polling tick; all panel state derives from the latest snapshot.
package tui

import (
	"time"

	"github.com/windlass-sh/masthead/control"
)

// SnapshotMsg delivers the latest published state snapshot to the TUI.
type SnapshotMsg struct {
	Snap control.Snapshot
}

// TickMsg drives the snapshot poll and spinner animation.
type TickMsg struct {
	Time time.Time
}
