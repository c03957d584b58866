package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/instrument"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// debateIntegration adjudicates the bull and bear theses. Both research
// keys must be present; a missing side is unrecoverable for the run.
func debateIntegration(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		bull := dataMap(snapshot, consts.KeyBullResearch)
		bear := dataMap(snapshot, consts.KeyBearResearch)
		if bull == nil || bear == nil {
			return nil, capability.Permanent("debate", errors.New("bull or bear research missing from state"))
		}

		ticker := stateTicker(snapshot)
		prompt := fmt.Sprintf(
			"Two researchers disagree on %s. Weigh both cases and pick the stronger one. "+
				"Answer with a signal (bullish/bearish/neutral), a confidence between 0 and 1, and your reasoning.\n\n"+
				"BULL CASE (confidence %.2f):\n%s\n\nBEAR CASE (confidence %.2f):\n%s",
			ticker,
			getFloat(bull, "confidence"), getString(bull, "analysis"),
			getFloat(bear, "confidence"), getString(bear, "analysis"))

		out, err := deps.LLM.Complete(ctx, []*schema.Message{
			schema.SystemMessage("You are the debate moderator of an investment committee. Be decisive."),
			schema.UserMessage(prompt),
		})
		if err != nil {
			return nil, err
		}
		instrument.RecordReasoning(ctx, out)

		delta := state.Delta()
		delta.Data[consts.KeyDebateAnalysis] = map[string]any{
			"signal":     parseSignal(out),
			"confidence": parseConfidence(out),
			"reasoning":  out,
		}
		return delta, nil
	}
}

// riskManagement sizes the position against the portfolio. Rule based:
// the volatility estimate and the debate signal set the budget.
func riskManagement(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		portfolio := dataMap(snapshot, consts.KeyPortfolio)
		if portfolio == nil {
			return nil, capability.Permanent("risk", errors.New("portfolio missing from state"))
		}
		debate := dataMap(snapshot, consts.KeyDebateAnalysis)
		technical := dataMap(snapshot, consts.KeyTechnicalAnalysis)

		cash := getFloat(portfolio, "cash")
		vol := getFloat(technical, "volatility")
		signal := getString(debate, "signal")

		// Risk score 1..10 from volatility; above ~60% annualized is
		// max risk.
		riskScore := clamp(math.Round(vol/0.06), 1, 10)

		// Volatile names get a smaller share of cash.
		budgetFraction := clamp(0.25-(riskScore-1)*0.02, 0.05, 0.25)
		maxPosition := cash * budgetFraction

		action := "hold"
		switch signal {
		case "bullish":
			action = "buy"
		case "bearish":
			action = "sell"
		}
		if riskScore >= 9 && action == "buy" {
			action = "hold"
		}

		analysis := fmt.Sprintf(
			"Risk score %.0f/10 at %.1f%% annualized volatility; budget %.0f%% of cash (%.2f). Suggested action: %s.",
			riskScore, vol*100, budgetFraction*100, maxPosition, action)
		instrument.RecordReasoning(ctx, analysis)

		delta := state.Delta()
		delta.Data[consts.KeyRiskAnalysis] = map[string]any{
			"max_position_size": maxPosition,
			"risk_score":        riskScore,
			"trading_action":    action,
			"analysis":          analysis,
		}
		return delta, nil
	}
}

// macroAnalysis reads the macro environment out of the collected news.
func macroAnalysis(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		ticker := stateTicker(snapshot)
		prompt := fmt.Sprintf(
			"From the headlines below, characterize the macro environment (rates, growth, sector conditions) "+
				"and its likely impact on %s. Answer with macro_environment (one of favorable/neutral/hostile), "+
				"impact_on_stock (positive/neutral/negative), and a short explanation.\n\n%s",
			ticker, headlines(snapshot, 0))

		out, err := deps.LLM.Complete(ctx, []*schema.Message{
			schema.SystemMessage("You are a macro strategist."),
			schema.UserMessage(prompt),
		})
		if err != nil {
			return nil, err
		}
		instrument.RecordReasoning(ctx, out)

		delta := state.Delta()
		delta.Data[consts.KeyMacroAnalysis] = map[string]any{
			"macro_environment": macroLabel(out, []string{"favorable", "hostile"}, "neutral"),
			"impact_on_stock":   macroLabel(out, []string{"positive", "negative"}, "neutral"),
			"analysis":          out,
		}
		return delta, nil
	}
}

// portfolioDecision is the sink: the final call for the run. It appends
// the decision message so the transcript ends with the verdict.
func portfolioDecision(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		debate := dataMap(snapshot, consts.KeyDebateAnalysis)
		risk := dataMap(snapshot, consts.KeyRiskAnalysis)
		macro := dataMap(snapshot, consts.KeyMacroAnalysis)
		metrics := dataMap(snapshot, consts.KeyFinancialMetrics)
		if debate == nil || risk == nil {
			return nil, capability.Permanent("portfolio", errors.New("debate or risk analysis missing from state"))
		}

		ticker := stateTicker(snapshot)
		price := getFloat(metrics, "current_price")
		maxPosition := getFloat(risk, "max_position_size")

		prompt := fmt.Sprintf(
			"Make the final trading decision for %s. The debate concluded %s (confidence %.2f): %s\n\n"+
				"Risk management allows at most %.2f of capital, suggested action %s. Macro impact: %s.\n\n"+
				"Answer with action (BUY/SELL/HOLD), quantity in shares (current price %.2f), "+
				"confidence between 0 and 1, an optional price target, and your reasoning.",
			ticker,
			getString(debate, "signal"), getFloat(debate, "confidence"), getString(debate, "reasoning"),
			maxPosition, getString(risk, "trading_action"), getString(macro, "impact_on_stock"), price)

		out, err := deps.LLM.Complete(ctx, []*schema.Message{
			schema.SystemMessage("You are the portfolio manager making the final call. Respect the risk limits."),
			schema.UserMessage(prompt),
		})
		if err != nil {
			return nil, err
		}
		instrument.RecordReasoning(ctx, out)

		action := decisionAction(out, getString(risk, "trading_action"))
		quantity := 0.0
		if action == "BUY" && price > 0 {
			quantity = math.Floor(maxPosition / price)
		}
		if action == "SELL" {
			if p := dataMap(snapshot, consts.KeyPortfolio); p != nil {
				quantity = getFloat(p, "stock")
			}
		}

		delta := state.Delta()
		delta.Data[consts.KeyFinalDecision] = map[string]any{
			"action":     action,
			"quantity":   quantity,
			"confidence": parseConfidence(out),
			"reasoning":  out,
		}
		delta.Messages = append(delta.Messages, schema.AssistantMessage(out, nil))
		return delta, nil
	}
}

func macroLabel(text string, candidates []string, fallback string) string {
	lower := strings.ToLower(text)
	for _, c := range candidates {
		if strings.Contains(lower, c) {
			return c
		}
	}
	return fallback
}

// decisionAction maps the model's verdict to {BUY, SELL, HOLD}, falling
// back to the risk manager's suggestion when the text is ambiguous.
func decisionAction(text, riskAction string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "buy"):
		return "BUY"
	case strings.Contains(lower, "sell"):
		return "SELL"
	case strings.Contains(lower, "hold"):
		return "HOLD"
	}
	switch riskAction {
	case "buy":
		return "BUY"
	case "sell":
		return "SELL"
	}
	return "HOLD"
}
