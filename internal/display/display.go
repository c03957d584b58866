// Package display renders a finished run as a terminal report.
package display

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quantclan/HedgeCouncil/internal/processing"
	"github.com/quantclan/HedgeCouncil/internal/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	buyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#10B981"))

	sellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#EF4444"))

	holdStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F59E0B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(1, 2).
			Width(80)
)

// Summary renders the report for a finished run.
func Summary(rec registry.RunRecord, decision *processing.Decision) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("HedgeCouncil · %s", rec.Ticker)))
	b.WriteString("\n")

	var body strings.Builder
	body.WriteString(sectionStyle.Render("DECISION"))
	body.WriteString("\n")
	body.WriteString(fmt.Sprintf("%s  confidence %.0f%%", actionStyle(decision.Action).Render(decision.Action), decision.Confidence*100))
	if decision.Quantity > 0 {
		body.WriteString(fmt.Sprintf("  ·  %.0f shares", decision.Quantity))
	}
	if decision.HasTarget {
		body.WriteString(fmt.Sprintf("  ·  target $%s", decision.PriceTarget.String()))
	}
	body.WriteString("\n\n")

	body.WriteString(sectionStyle.Render("AGENT SIGNALS"))
	body.WriteString("\n")
	for _, line := range agentLines(rec) {
		body.WriteString(line)
		body.WriteString("\n")
	}

	if decision.Reasoning != "" {
		body.WriteString("\n")
		body.WriteString(sectionStyle.Render("REASONING"))
		body.WriteString("\n")
		body.WriteString(wrap(decision.Reasoning, 74))
		body.WriteString("\n")
	}

	if rec.EndTime != nil {
		body.WriteString("\n")
		body.WriteString(dimStyle.Render(fmt.Sprintf("run %s · %s · finished in %s",
			rec.RunID, rec.Status, rec.EndTime.Sub(rec.StartTime).Round(1_000_000))))
	}

	b.WriteString(boxStyle.Render(body.String()))
	b.WriteString("\n")
	return b.String()
}

func actionStyle(action string) lipgloss.Style {
	switch action {
	case "BUY":
		return buyStyle
	case "SELL":
		return sellStyle
	}
	return holdStyle
}

// agentLines lists each agent's signal line, ordered by step start.
func agentLines(rec registry.RunRecord) []string {
	steps := make([]registry.AgentStep, 0, len(rec.AgentSteps))
	for _, step := range rec.AgentSteps {
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StartedAt.Before(steps[j].StartedAt) })

	out := make([]string, 0, len(steps))
	for _, step := range steps {
		line := fmt.Sprintf("  %-22s", step.AgentID)
		if signal := stepSignal(step); signal != "" {
			line += signal
		} else if step.Err != "" {
			line += sellStyle.Render("failed")
		} else {
			line += dimStyle.Render("done")
		}
		out = append(out, line)
	}
	return out
}

// stepSignal pulls the agent's signal out of its recorded output, if
// it wrote one.
func stepSignal(step registry.AgentStep) string {
	data, _ := step.Output["data"].(map[string]any)
	for _, v := range data {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if signal, ok := m["signal"].(string); ok {
			conf, _ := m["confidence"].(float64)
			return fmt.Sprintf("%-8s %s", signal, dimStyle.Render(fmt.Sprintf("%.0f%%", conf*100)))
		}
	}
	return ""
}

func wrap(text string, width int) string {
	words := strings.Fields(text)
	var b strings.Builder
	lineLen := 0
	for _, w := range words {
		if lineLen+len(w)+1 > width {
			b.WriteString("\n")
			lineLen = 0
		} else if lineLen > 0 {
			b.WriteString(" ")
			lineLen++
		}
		b.WriteString(w)
		lineLen += len(w)
	}
	return b.String()
}
