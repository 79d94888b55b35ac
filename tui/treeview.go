// ABOUTME: Renders a derived execution tree as indented text: phases, soundings, turns, reforge, wards.
// ABOUTME: Pure formatting over tree.Tree; the builder owns all semantics.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/windlass-sh/masthead/tree"
)

// RenderTree formats a session's execution tree for the detail panel.
func RenderTree(t *tree.Tree) string {
	if t == nil {
		return DimStyle.Render("waiting for log...")
	}

	var b strings.Builder
	for _, phase := range t.Phases {
		b.WriteString(renderPhase(phase))
	}
	b.WriteString(renderTotals(t))
	return b.String()
}

func renderPhase(p *tree.Phase) string {
	var b strings.Builder

	marker := phaseMarker(p.Status)
	header := fmt.Sprintf("%s %s", marker, p.Name)
	if p.Duration > 0 {
		header += DimStyle.Render(fmt.Sprintf("  %s", p.Duration.Round(durationPrecision(p.Duration))))
	}
	header += CostStyle.Render(fmt.Sprintf("  $%.4f", p.Cost))
	b.WriteString(header + "\n")

	for _, w := range p.Wards {
		if w.Position == tree.WardPre {
			b.WriteString("  " + renderWard(w) + "\n")
		}
	}

	if len(p.Soundings) > 0 {
		for _, s := range p.Soundings {
			b.WriteString(renderSounding(s))
		}
		if p.Evaluator != nil {
			b.WriteString("  " + renderEvaluator(p.Evaluator) + "\n")
		}
	} else if len(p.Direct) > 0 {
		b.WriteString(DimStyle.Render(fmt.Sprintf("  %d entries", len(p.Direct))) + "\n")
	}

	for _, step := range p.ReforgeSteps {
		b.WriteString(renderReforgeStep(step))
	}

	for _, w := range p.Wards {
		if w.Position != tree.WardPre {
			b.WriteString("  " + renderWard(w) + "\n")
		}
	}

	return b.String()
}

func renderSounding(s *tree.Sounding) string {
	style := ExplorationStyle
	label := fmt.Sprintf("sounding %d", s.Index)
	if s.IsWinner {
		style = WinnerStyle
		label += " *winner*"
	}

	var b strings.Builder
	b.WriteString("  " + style.Render(label) + CostStyle.Render(fmt.Sprintf("  $%.4f", s.Cost)) + "\n")
	for _, turn := range s.Turns {
		b.WriteString("    " + renderTurn(turn) + "\n")
	}
	return b.String()
}

func renderTurn(t *tree.Turn) string {
	line := fmt.Sprintf("turn %d", t.Number)
	if t.Status == tree.TurnPending {
		line += DimStyle.Render(" (pending)")
	}
	for _, tc := range t.ToolCalls {
		tag := tc.Name
		if tc.Result == nil {
			tag += "?"
		}
		line += DimStyle.Render(" [" + tag + "]")
	}
	if t.Duration > 0 {
		line += DimStyle.Render(fmt.Sprintf("  %s", t.Duration.Round(durationPrecision(t.Duration))))
	}
	return line
}

func renderReforgeStep(step *tree.ReforgeStep) string {
	var b strings.Builder
	b.WriteString("  " + TitleStyle.Render(fmt.Sprintf("reforge %d", step.Step)) +
		CostStyle.Render(fmt.Sprintf("  $%.4f", step.Cost)) + "\n")
	for _, attempt := range step.Attempts {
		for _, turn := range attempt.Turns {
			b.WriteString("    " + renderTurn(turn) + "\n")
		}
	}
	return b.String()
}

func renderWard(w tree.WardResult) string {
	var style = DimStyle
	var verdict string
	switch w.Outcome {
	case tree.WardPassed:
		style, verdict = SettledStyle, "passed"
	case tree.WardFailed:
		style, verdict = FailedStyle, "FAILED"
	default:
		verdict = "no verdict"
	}
	line := fmt.Sprintf("ward %s: %s", w.Name, verdict)
	if w.Message != "" {
		line += " (" + w.Message + ")"
	}
	return style.Render(line)
}

func renderEvaluator(e *tree.EvaluatorResult) string {
	if e.WinnerIndex == nil {
		return DimStyle.Render("evaluator: undecided")
	}
	line := fmt.Sprintf("evaluator: picked %d", *e.WinnerIndex)
	if e.Rationale != "" {
		line += " (" + e.Rationale + ")"
	}
	return DimStyle.Render(line)
}

func renderTotals(t *tree.Tree) string {
	var b strings.Builder
	b.WriteString(CostStyle.Render(fmt.Sprintf(
		"total $%.4f  used $%.4f  exploration $%.4f",
		t.Totals.Cost, t.Totals.UsedCost, t.Totals.ExplorationCost)))
	b.WriteString(DimStyle.Render(fmt.Sprintf("  tokens %d in / %d out",
		t.Totals.TokensIn, t.Totals.TokensOut)))
	if t.MostExpensive != nil {
		b.WriteString(DimStyle.Render(fmt.Sprintf("  costliest: %s $%.4f",
			t.MostExpensive.NodeType, t.MostExpensive.Cost)))
	}
	b.WriteString("\n")
	return b.String()
}

func phaseMarker(s tree.PhaseStatus) string {
	switch s {
	case tree.PhaseRunning:
		return RunningStyle.Render("▶")
	case tree.PhaseError:
		return FailedStyle.Render("✗")
	default:
		return SettledStyle.Render("✓")
	}
}

// durationPrecision picks a rounding unit so short spans keep millisecond
// detail while long ones stay readable.
func durationPrecision(d time.Duration) time.Duration {
	if d >= 10*time.Second {
		return time.Second
	}
	return time.Millisecond
}
