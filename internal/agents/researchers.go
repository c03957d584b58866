package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/quantclan/HedgeCouncil/internal/instrument"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// researcher builds one side of the debate: the strongest possible
// case for its assigned perspective, argued from the four analyses.
func researcher(deps Deps, perspective, writeKey string) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		ticker := stateTicker(snapshot)
		prompt := fmt.Sprintf(
			"You are the %s researcher for %s. Using only the findings below, make the strongest %s case. "+
				"List 3-5 thesis points as bullet lines starting with '-', then state your confidence between 0 and 1.\n\n%s",
			perspective, ticker, perspective, summarizeAnalyses(snapshot))

		out, err := deps.LLM.Complete(ctx, []*schema.Message{
			schema.SystemMessage(fmt.Sprintf("You are a %s equity researcher. Argue your side, do not hedge.", perspective)),
			schema.UserMessage(prompt),
		})
		if err != nil {
			return nil, err
		}
		instrument.RecordReasoning(ctx, out)

		delta := state.Delta()
		delta.Data[writeKey] = map[string]any{
			"perspective":   perspective,
			"confidence":    parseConfidence(out),
			"thesis_points": thesisPoints(out),
			"analysis":      out,
		}
		return delta, nil
	}
}

// thesisPoints extracts bullet lines from model output.
func thesisPoints(text string) []any {
	points := make([]any, 0, 5)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, prefix) {
				points = append(points, strings.TrimSpace(strings.TrimPrefix(line, prefix)))
				break
			}
		}
	}
	if len(points) == 0 {
		points = append(points, strings.TrimSpace(text))
	}
	return points
}
