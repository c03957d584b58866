package agents

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantclan/HedgeCouncil/internal/state"
)

// State snapshots are JSON round-tripped, so every structured value an
// agent reads arrives as map[string]any / []any / float64 / string.

func dataMap(s *state.AnalysisState, key string) map[string]any {
	m, _ := s.DataMap(key)
	return m
}

func dataSlice(s *state.AnalysisState, key string) []any {
	v, _ := s.Data[key].([]any)
	return v
}

func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func stateTicker(s *state.AnalysisState) string {
	v, _ := s.Data["ticker"].(string)
	return v
}

func stateInt(s *state.AnalysisState, key string, fallback int) int {
	switch v := s.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func stateDate(s *state.AnalysisState, key string, fallback time.Time) time.Time {
	raw, _ := s.Data[key].(string)
	if raw == "" {
		return fallback
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fallback
	}
	return t
}

// closes extracts the close series from the collector's price bars.
func closes(s *state.AnalysisState) []float64 {
	bars := dataSlice(s, "prices")
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		if m, ok := b.(map[string]any); ok {
			out = append(out, getFloat(m, "close"))
		}
	}
	return out
}

var (
	signalRe     = regexp.MustCompile(`(?i)\b(bullish|bearish|neutral|buy|sell|hold)\b`)
	confidenceRe = regexp.MustCompile(`(?i)confidence[^0-9]{0,10}([0-9]*\.?[0-9]+)`)
)

// parseSignal maps free-form model text to {bullish, bearish, neutral}.
func parseSignal(text string) string {
	match := signalRe.FindString(text)
	switch strings.ToLower(match) {
	case "bullish", "buy":
		return "bullish"
	case "bearish", "sell":
		return "bearish"
	default:
		return "neutral"
	}
}

// parseConfidence pulls a confidence value out of model text,
// normalizing percentages to [0, 1]. Missing values default to 0.5.
func parseConfidence(text string) float64 {
	m := confidenceRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0.5
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0.5
	}
	if v > 1 {
		v = v / 100
	}
	if v < 0 || v > 1 {
		return 0.5
	}
	return v
}

// summarizeAnalyses renders the four analysis findings for a research
// or debate prompt.
func summarizeAnalyses(s *state.AnalysisState) string {
	var b strings.Builder
	for _, key := range []string{"technical_analysis", "fundamental_analysis", "sentiment_analysis", "valuation_analysis"} {
		m := dataMap(s, key)
		if m == nil {
			continue
		}
		fmt.Fprintf(&b, "%s: signal=%s confidence=%.2f\n%s\n\n",
			key, getString(m, "signal"), getFloat(m, "confidence"), getString(m, "analysis"))
	}
	return b.String()
}

// headlines renders the collected news for an LLM prompt.
func headlines(s *state.AnalysisState, limit int) string {
	articles := dataSlice(s, "news")
	var b strings.Builder
	for i, a := range articles {
		if limit > 0 && i >= limit {
			break
		}
		if m, ok := a.(map[string]any); ok {
			fmt.Fprintf(&b, "- [%s] %s\n", getString(m, "source"), getString(m, "title"))
		}
	}
	if b.Len() == 0 {
		return "(no recent news)"
	}
	return b.String()
}
