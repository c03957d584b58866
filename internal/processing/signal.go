// Package processing turns the council's final state into a compact
// trading signal: action, confidence, and an optional price target.
package processing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/state"
)

// Decision is the distilled outcome of a run.
type Decision struct {
	Action      string          `json:"action"`
	Quantity    float64         `json:"quantity"`
	Confidence  float64         `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	PriceTarget decimal.Decimal `json:"price_target,omitempty"`
	HasTarget   bool            `json:"has_target"`
}

// SignalProcessor extracts decisions from the portfolio agent's output,
// with pattern fallbacks when the structured fields are missing.
type SignalProcessor struct {
	buyPatterns  []*regexp.Regexp
	sellPatterns []*regexp.Regexp
	holdPatterns []*regexp.Regexp
	targetRe     *regexp.Regexp
}

func NewSignalProcessor() *SignalProcessor {
	return &SignalProcessor{
		buyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(buy|purchase|long|accumulate)\b`),
			regexp.MustCompile(`(?i)\b(strong buy|buy recommendation)\b`),
		},
		sellPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(sell|short|divest|exit)\b`),
			regexp.MustCompile(`(?i)\b(strong sell|sell recommendation)\b`),
		},
		holdPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(hold|maintain|wait|no action)\b`),
		},
		targetRe: regexp.MustCompile(`(?i)(?:price\s+)?target[^0-9$]{0,15}\$?\s*([0-9]+(?:\.[0-9]+)?)`),
	}
}

// Extract reads the final decision out of a completed run's state.
func (sp *SignalProcessor) Extract(final *state.AnalysisState) *Decision {
	d := &Decision{Action: "HOLD", Confidence: 0.5}
	if final == nil {
		return d
	}

	raw, _ := final.Data[consts.KeyFinalDecision].(map[string]any)
	if raw != nil {
		if action, ok := raw["action"].(string); ok && action != "" {
			d.Action = strings.ToUpper(action)
		}
		d.Quantity = toFloat(raw["quantity"])
		if c := toFloat(raw["confidence"]); c > 0 {
			d.Confidence = c
		}
		if reasoning, ok := raw["reasoning"].(string); ok {
			d.Reasoning = reasoning
		}
	}

	text := d.Reasoning
	if text == "" && len(final.Messages) > 0 {
		text = final.Messages[len(final.Messages)-1].Content
		d.Reasoning = text
	}
	if raw == nil || d.Action == "" {
		d.Action = sp.extractAction(text)
	}

	if target, ok := sp.extractTarget(text); ok {
		d.PriceTarget = target
		d.HasTarget = true
	}
	return d
}

// extractAction scores the text against the action patterns and picks
// the strongest, defaulting to HOLD on a tie.
func (sp *SignalProcessor) extractAction(text string) string {
	text = strings.ToLower(text)

	score := func(patterns []*regexp.Regexp) int {
		n := 0
		for _, p := range patterns {
			n += len(p.FindAllString(text, -1))
		}
		return n
	}

	buy, sell, hold := score(sp.buyPatterns), score(sp.sellPatterns), score(sp.holdPatterns)
	switch {
	case buy > sell && buy > hold:
		return "BUY"
	case sell > buy && sell > hold:
		return "SELL"
	}
	return "HOLD"
}

func (sp *SignalProcessor) extractTarget(text string) (decimal.Decimal, bool) {
	m := sp.targetRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return decimal.Decimal{}, false
	}
	target, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return target, true
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
