// ABOUTME: Registry of pending human-in-the-loop checkpoints with an optimistic-removal overlay.
// ABOUTME: Duplicate removals are no-ops; failed submissions restore the checkpoint instead of losing it.
package track

import (
	"sort"
	"sync"

	"github.com/windlass-sh/masthead/cascade"
)

// Checkpoints tracks checkpoints the backend is waiting on. Server-confirmed
// state lives in pending; locally answered checkpoints move to the tentative
// overlay until the server confirms (event arrives) or the submit fails.
type Checkpoints struct {
	mu        sync.Mutex
	pending   map[string]cascade.PendingCheckpoint
	tentative map[string]cascade.PendingCheckpoint
	// removed remembers server-resolved IDs for the registry's lifetime,
	// the same way the tracker's completed map does, so a re-delivered
	// checkpoint_waiting cannot resurrect a resolved checkpoint.
	removed map[string]bool
}

// NewCheckpoints creates an empty registry.
func NewCheckpoints() *Checkpoints {
	return &Checkpoints{
		pending:   make(map[string]cascade.PendingCheckpoint),
		tentative: make(map[string]cascade.PendingCheckpoint),
		removed:   make(map[string]bool),
	}
}

// Add records a checkpoint from a checkpoint_waiting event. Re-delivery for
// an already-pending, tentatively-resolved, or already-removed checkpoint is
// a no-op.
func (c *Checkpoints) Add(cp cascade.PendingCheckpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removed[cp.ID] {
		return
	}
	if _, ok := c.tentative[cp.ID]; ok {
		return
	}
	c.pending[cp.ID] = cp
}

// Remove drops a checkpoint on responded/cancelled/timeout events. Removing
// an unknown ID (already removed optimistically, or never seen) is a no-op,
// not an error. A tentative entry is cleared too: the server has confirmed.
func (c *Checkpoints) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
	delete(c.tentative, id)
	c.removed[id] = true
}

// ResolveLocally moves a checkpoint into the tentative overlay the moment
// the user submits a response, before server confirmation, so the UI stays
// responsive. Returns false if the checkpoint is not pending.
func (c *Checkpoints) ResolveLocally(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.pending[id]
	if !ok {
		return false
	}
	delete(c.pending, id)
	c.tentative[id] = cp
	return true
}

// Restore puts a tentatively-resolved checkpoint back into the pending set
// after a failed submission, so it is never silently lost. Returns the
// restored checkpoint and whether anything was restored.
func (c *Checkpoints) Restore(id string) (cascade.PendingCheckpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp, ok := c.tentative[id]
	if !ok {
		return cascade.PendingCheckpoint{}, false
	}
	delete(c.tentative, id)
	c.pending[id] = cp
	return cp, true
}

// Pending returns the server-confirmed pending checkpoints (tentatively
// resolved ones excluded) ordered by ID for stable rendering.
func (c *Checkpoints) Pending() []cascade.PendingCheckpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cascade.PendingCheckpoint, 0, len(c.pending))
	for _, cp := range c.pending {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForSession returns pending checkpoints for one session, ordered by ID.
func (c *Checkpoints) ForSession(sessionID string) []cascade.PendingCheckpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []cascade.PendingCheckpoint
	for _, cp := range c.pending {
		if cp.SessionID == sessionID {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
