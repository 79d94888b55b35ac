// ABOUTME: Pure fold from a session's flat ordered log into the nested execution tree.
// ABOUTME: Idempotent by construction: no hidden state, no randomness, encounter-order partitioning.
package tree

import (
	"sort"
	"time"

	"github.com/windlass-sh/masthead/cascade"
)

// InitPhaseName is the synthetic phase that collects entries written before
// any named phase started.
const InitPhaseName = "Initialization"

// Build folds a session's flat, timestamp-ordered log into an execution
// tree. The output depends only on the entries slice and the session status
// (needed to distinguish a running last phase from a completed one); calling
// Build twice on the same input yields structurally identical trees.
func Build(sessionID string, status cascade.SessionStatus, entries []cascade.LogEntry) *Tree {
	t := &Tree{
		SessionID: sessionID,
		Totals:    Totals{ByModel: make(map[string]ModelUsage)},
	}

	// Step 1: partition by phase name in encounter order.
	var phaseOrder []string
	byPhase := make(map[string][]cascade.LogEntry)
	for _, e := range entries {
		name := e.PhaseName
		if name == "" {
			name = InitPhaseName
		}
		if _, seen := byPhase[name]; !seen {
			phaseOrder = append(phaseOrder, name)
		}
		byPhase[name] = append(byPhase[name], e)
	}

	for _, name := range phaseOrder {
		t.Phases = append(t.Phases, buildPhase(name, byPhase[name]))
	}

	// Phase statuses need to know which phase is last.
	active := status == cascade.StatusRunning || status == cascade.StatusFinalizing
	for i, p := range t.Phases {
		p.Status = phaseStatus(byPhase[p.Name], active && i == len(t.Phases)-1)
	}

	// Step 8: cost partition once winner indices are known for every phase.
	for _, p := range t.Phases {
		partitionCost(p, byPhase[p.Name])
		t.Totals.Cost += p.Cost
		t.Totals.UsedCost += p.UsedCost
		t.Totals.ExplorationCost += p.ExplorationCost
	}

	accumulateUsage(t, entries)
	return t
}

// buildPhase folds one phase's entries into soundings, reforge steps, wards,
// and direct entries.
func buildPhase(name string, entries []cascade.LogEntry) *Phase {
	p := &Phase{Name: name}

	soundingEntries := make(map[int][]cascade.LogEntry)
	// reforge step -> attempt index -> entries
	reforgeEntries := make(map[int]map[int][]cascade.LogEntry)

	for _, e := range entries {
		switch e.NodeType {
		case cascade.NodeWard:
			p.Wards = append(p.Wards, classifyWard(e))
		case cascade.NodeEvaluator:
			p.Evaluator = evaluatorResult(e)
		}

		switch {
		case e.ReforgeStep != nil:
			step := *e.ReforgeStep
			attempt := 0
			if e.SoundingIndex != nil {
				attempt = *e.SoundingIndex
			}
			if reforgeEntries[step] == nil {
				reforgeEntries[step] = make(map[int][]cascade.LogEntry)
			}
			reforgeEntries[step][attempt] = append(reforgeEntries[step][attempt], e)

		case e.SoundingIndex != nil:
			soundingEntries[*e.SoundingIndex] = append(soundingEntries[*e.SoundingIndex], e)

		default:
			p.Direct = append(p.Direct, e)
		}
	}

	// Step 2: soundings in ascending index order.
	for _, idx := range sortedKeys(soundingEntries) {
		s := &Sounding{Index: idx}
		s.Turns, s.Loose = buildTurns(soundingEntries[idx])
		for _, e := range soundingEntries[idx] {
			s.Cost += e.Cost
			if e.IsWinner {
				s.IsWinner = true
			}
		}
		p.Soundings = append(p.Soundings, s)
	}

	// Step 5: winner index from is_winner entries. Nil means no decision
	// yet, which renders differently from "sounding 0 won".
	for _, s := range p.Soundings {
		if s.IsWinner {
			idx := s.Index
			p.WinnerIndex = &idx
			break
		}
	}

	// Step 6: reforge steps with attempts nested by per-step index.
	for _, step := range sortedKeys(reforgeEntries) {
		rs := &ReforgeStep{Step: step}
		for _, attemptIdx := range sortedKeys(reforgeEntries[step]) {
			a := &Attempt{Index: attemptIdx}
			a.Turns, a.Loose = buildTurns(reforgeEntries[step][attemptIdx])
			rs.Attempts = append(rs.Attempts, a)
			for _, e := range reforgeEntries[step][attemptIdx] {
				rs.Cost += e.Cost
			}
		}
		p.ReforgeSteps = append(p.ReforgeSteps, rs)
	}

	p.Duration = spanDuration(entries)
	return p
}

// buildTurns partitions entries by turn number, creating placeholder turns
// for skipped indices up to the maximum seen. Entries without a turn number
// are returned as loose.
func buildTurns(entries []cascade.LogEntry) ([]*Turn, []cascade.LogEntry) {
	byTurn := make(map[int][]cascade.LogEntry)
	var loose []cascade.LogEntry
	maxTurn := -1

	for _, e := range entries {
		if e.TurnNumber == nil {
			loose = append(loose, e)
			continue
		}
		n := *e.TurnNumber
		if n < 0 {
			loose = append(loose, e)
			continue
		}
		byTurn[n] = append(byTurn[n], e)
		if n > maxTurn {
			maxTurn = n
		}
	}

	if maxTurn < 0 {
		return nil, loose
	}

	// Step 3: turn count is max(turn_number)+1, never inferred from
	// configuration when execution data exists.
	turns := make([]*Turn, 0, maxTurn+1)
	for n := 0; n <= maxTurn; n++ {
		turns = append(turns, buildTurn(n, byTurn[n]))
	}
	return turns, loose
}

// buildTurn assembles one turn: status, duration, and tool call pairing.
func buildTurn(number int, entries []cascade.LogEntry) *Turn {
	t := &Turn{Number: number, Status: TurnPending, Entries: entries}

	var explicit int64
	var openCalls []int // indices into t.ToolCalls awaiting a result

	for _, e := range entries {
		// Step 4: a turn completes when an assistant or phase_complete
		// entry is seen for it.
		if e.NodeType == cascade.NodeAssistant || e.NodeType == cascade.NodePhaseComplete {
			t.Status = TurnComplete
		}
		explicit += e.DurationMS

		switch e.NodeType {
		case cascade.NodeToolCall:
			t.ToolCalls = append(t.ToolCalls, ToolCall{Name: toolName(e), Call: e})
			openCalls = append(openCalls, len(t.ToolCalls)-1)
		case cascade.NodeToolResult:
			if len(openCalls) > 0 {
				i := openCalls[0]
				openCalls = openCalls[1:]
				result := e
				t.ToolCalls[i].Result = &result
			}
		}
	}

	if explicit > 0 {
		t.Duration = millis(explicit)
	} else {
		// Fallback only: timestamp span never overrides explicit durations.
		t.Duration = spanDuration(entries)
	}
	return t
}

// phaseStatus derives a phase's status. Error beats everything; a
// phase_complete entry settles it; otherwise the last phase of a
// running/finalizing session is considered running.
func phaseStatus(entries []cascade.LogEntry, lastAndActive bool) PhaseStatus {
	hasComplete := false
	for _, e := range entries {
		switch e.NodeType {
		case cascade.NodeError:
			return PhaseError
		case cascade.NodePhaseComplete:
			hasComplete = true
		}
	}
	if !hasComplete && lastAndActive {
		return PhaseRunning
	}
	return PhaseCompleted
}

// partitionCost assigns every entry's cost to the used or exploration
// bucket, per phase. Direct entries and reforge work are always used;
// soundings are used only on the winning path. While no winner has been
// recorded, sounding cost counts as used: nothing has been discarded yet.
func partitionCost(p *Phase, entries []cascade.LogEntry) {
	for _, e := range entries {
		p.Cost += e.Cost

		exploration := false
		if e.SoundingIndex != nil && e.ReforgeStep == nil && p.WinnerIndex != nil {
			exploration = *e.SoundingIndex != *p.WinnerIndex
		}

		if exploration {
			p.ExplorationCost += e.Cost
		} else {
			p.UsedCost += e.Cost
		}
	}
}

// classifyWard maps a ward entry to its result. A missing verdict is
// unknown; a missing position defaults to post.
func classifyWard(e cascade.LogEntry) WardResult {
	w := WardResult{Outcome: WardUnknown, Position: WardPost}
	d, ok := cascade.DecodeDetail(e).(cascade.WardDetail)
	if !ok {
		return w
	}
	w.Name = d.Name
	w.Message = d.Message
	if d.Valid != nil {
		if *d.Valid {
			w.Outcome = WardPassed
		} else {
			w.Outcome = WardFailed
		}
	}
	if d.Position == string(WardPre) {
		w.Position = WardPre
	}
	return w
}

// evaluatorResult decodes an evaluator entry's recorded decision.
func evaluatorResult(e cascade.LogEntry) *EvaluatorResult {
	d, ok := cascade.DecodeDetail(e).(cascade.EvaluatorDetail)
	if !ok {
		return &EvaluatorResult{}
	}
	return &EvaluatorResult{
		WinnerIndex: d.WinnerIndex,
		Scores:      d.Scores,
		Rationale:   d.Rationale,
	}
}

// accumulateUsage fills session-wide token/model totals and finds the most
// expensive entry. Full recompute per build; see DESIGN.md on memoization.
func accumulateUsage(t *Tree, entries []cascade.LogEntry) {
	for i, e := range entries {
		t.Totals.TokensIn += e.TokensIn
		t.Totals.TokensOut += e.TokensOut

		if e.Model != "" {
			u := t.Totals.ByModel[e.Model]
			u.Cost += e.Cost
			u.TokensIn += e.TokensIn
			u.TokensOut += e.TokensOut
			t.Totals.ByModel[e.Model] = u
		}

		if e.Cost > 0 && (t.MostExpensive == nil || e.Cost > t.MostExpensive.Cost) {
			top := entries[i]
			t.MostExpensive = &top
		}
	}
}

// toolName extracts the tool name from a tool_call entry's metadata,
// falling back to the content field.
func toolName(e cascade.LogEntry) string {
	if d, ok := cascade.DecodeDetail(e).(cascade.ToolCallDetail); ok {
		return d.ToolName
	}
	return e.Content
}

// sortedKeys returns the map's keys in ascending order.
func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// spanDuration is last minus first timestamp across entries, zero when
// fewer than two entries carry timestamps.
func spanDuration(entries []cascade.LogEntry) time.Duration {
	var first, last int
	found := 0
	for i, e := range entries {
		if e.Timestamp.IsZero() {
			continue
		}
		if found == 0 {
			first = i
		}
		last = i
		found++
	}
	if found < 2 {
		return 0
	}
	return entries[last].Timestamp.Sub(entries[first].Timestamp)
}

// millis converts a millisecond count to a time.Duration.
func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
