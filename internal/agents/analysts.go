package agents

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cloudwego/eino/schema"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/instrument"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// technicalAnalysis computes trend, momentum and volatility signals
// from the close series. Pure computation, no LLM call.
func technicalAnalysis(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		series := closes(snapshot)
		if len(series) < 2 {
			return nil, capability.Permanent("technical", errors.New("not enough price history"))
		}

		shortWindow, longWindow := 10, 30
		shortMA := sma(series, shortWindow)
		longMA := sma(series, longWindow)
		momentum := (series[len(series)-1] - series[0]) / series[0]
		vol := annualizedVolatility(series)

		signal := "neutral"
		confidence := 0.5
		switch {
		case shortMA > longMA && momentum > 0:
			signal = "bullish"
			confidence = clamp(0.5+math.Abs(momentum), 0.5, 0.95)
		case shortMA < longMA && momentum < 0:
			signal = "bearish"
			confidence = clamp(0.5+math.Abs(momentum), 0.5, 0.95)
		}

		analysis := fmt.Sprintf(
			"SMA%d=%.2f SMA%d=%.2f, momentum %.1f%% over the window, annualized volatility %.1f%%.",
			shortWindow, shortMA, longWindow, longMA, momentum*100, vol*100)
		instrument.RecordReasoning(ctx, analysis)

		delta := state.Delta()
		delta.Data[consts.KeyTechnicalAnalysis] = map[string]any{
			"signal":     signal,
			"confidence": confidence,
			"analysis":   analysis,
			"momentum":   momentum,
			"volatility": vol,
		}
		return delta, nil
	}
}

// fundamentalAnalysis scores the fundamentals snapshot with simple
// ratio rules.
func fundamentalAnalysis(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		metrics := dataMap(snapshot, consts.KeyFinancialMetrics)
		if metrics == nil {
			return nil, capability.Permanent("fundamental", errors.New("financial metrics missing from state"))
		}

		pe := getFloat(metrics, "pe_ratio")
		pb := getFloat(metrics, "price_to_book")
		eps := getFloat(metrics, "eps")
		yield := getFloat(metrics, "dividend_yield")

		score := 0
		if pe > 0 && pe < 25 {
			score++
		}
		if pb > 0 && pb < 4 {
			score++
		}
		if eps > 0 {
			score++
		}
		if yield > 0.01 {
			score++
		}

		signal := "neutral"
		if score >= 3 {
			signal = "bullish"
		} else if score <= 1 {
			signal = "bearish"
		}
		confidence := 0.4 + 0.15*float64(score)

		analysis := fmt.Sprintf(
			"P/E %.1f, P/B %.1f, EPS %.2f, dividend yield %.2f%%; %d of 4 checks favorable.",
			pe, pb, eps, yield*100, score)
		instrument.RecordReasoning(ctx, analysis)

		delta := state.Delta()
		delta.Data[consts.KeyFundamentals] = map[string]any{
			"signal":     signal,
			"confidence": confidence,
			"analysis":   analysis,
			"score":      float64(score),
		}
		return delta, nil
	}
}

// sentimentAnalysis asks the model to score the collected headlines.
func sentimentAnalysis(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		ticker := stateTicker(snapshot)
		prompt := fmt.Sprintf(
			"Score the overall news sentiment for %s on a scale from -1 (very negative) to 1 (very positive). "+
				"Answer with the score, a one-word signal (bullish/bearish/neutral), a confidence between 0 and 1, "+
				"and a short justification.\n\nHeadlines:\n%s",
			ticker, headlines(snapshot, 0))

		out, err := deps.LLM.Complete(ctx, []*schema.Message{
			schema.SystemMessage("You are a financial news sentiment analyst."),
			schema.UserMessage(prompt),
		})
		if err != nil {
			return nil, err
		}
		instrument.RecordReasoning(ctx, out)

		delta := state.Delta()
		delta.Data[consts.KeySentiment] = map[string]any{
			"signal":     parseSignal(out),
			"confidence": parseConfidence(out),
			"analysis":   out,
		}
		return delta, nil
	}
}

// valuationAnalysis estimates an earnings-multiple fair value and
// compares it with the market price.
func valuationAnalysis(deps Deps) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		metrics := dataMap(snapshot, consts.KeyFinancialMetrics)
		if metrics == nil {
			return nil, capability.Permanent("valuation", errors.New("financial metrics missing from state"))
		}

		eps := getFloat(metrics, "eps")
		price := getFloat(metrics, "current_price")
		if price <= 0 {
			return nil, capability.Permanent("valuation", errors.New("no market price in metrics"))
		}

		// Earnings-multiple anchor. Negative earnings mean the anchor
		// does not apply; report a bearish tilt with low confidence.
		const fairMultiple = 15.0
		signal := "neutral"
		confidence := 0.5
		gap := 0.0
		if eps > 0 {
			fair := eps * fairMultiple
			gap = (fair - price) / price
			switch {
			case gap > 0.15:
				signal = "bullish"
				confidence = clamp(0.5+gap, 0.5, 0.9)
			case gap < -0.15:
				signal = "bearish"
				confidence = clamp(0.5-gap, 0.5, 0.9)
			}
		} else {
			signal = "bearish"
			confidence = 0.4
		}

		analysis := fmt.Sprintf(
			"EPS %.2f at a %gx multiple vs market price %.2f; valuation gap %.1f%%.",
			eps, fairMultiple, price, gap*100)
		instrument.RecordReasoning(ctx, analysis)

		delta := state.Delta()
		delta.Data[consts.KeyValuation] = map[string]any{
			"signal":        signal,
			"confidence":    confidence,
			"analysis":      analysis,
			"valuation_gap": gap,
		}
		return delta, nil
	}
}

func sma(series []float64, window int) float64 {
	if window > len(series) {
		window = len(series)
	}
	sum := 0.0
	for _, v := range series[len(series)-window:] {
		sum += v
	}
	return sum / float64(window)
}

func annualizedVolatility(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			returns = append(returns, series[i]/series[i-1]-1)
		}
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance) * math.Sqrt(252)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
