package processing

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantclan/HedgeCouncil/consts"
	"github.com/quantclan/HedgeCouncil/internal/state"
)

func TestExtractFromStructuredDecision(t *testing.T) {
	s := state.New()
	s.Data[consts.KeyFinalDecision] = map[string]any{
		"action":     "BUY",
		"quantity":   36.0,
		"confidence": 0.72,
		"reasoning":  "Momentum and valuation both support entry. Price target: $210.50.",
	}

	d := NewSignalProcessor().Extract(s)
	assert.Equal(t, "BUY", d.Action)
	assert.Equal(t, 36.0, d.Quantity)
	assert.InDelta(t, 0.72, d.Confidence, 0.001)
	require.True(t, d.HasTarget)
	assert.Equal(t, "210.5", d.PriceTarget.String())
}

func TestExtractFallsBackToLastMessage(t *testing.T) {
	s := state.New()
	s.Messages = append(s.Messages, schema.AssistantMessage(
		"Given the overbought setup I recommend to sell and exit the position.", nil))

	d := NewSignalProcessor().Extract(s)
	assert.Equal(t, "SELL", d.Action)
	assert.False(t, d.HasTarget)
}

func TestExtractDefaultsToHold(t *testing.T) {
	d := NewSignalProcessor().Extract(state.New())
	assert.Equal(t, "HOLD", d.Action)
	assert.InDelta(t, 0.5, d.Confidence, 0.001)

	assert.Equal(t, "HOLD", NewSignalProcessor().Extract(nil).Action)
}

func TestExtractActionScoring(t *testing.T) {
	sp := NewSignalProcessor()
	assert.Equal(t, "BUY", sp.extractAction("strong buy, accumulate on dips, buy the breakout"))
	assert.Equal(t, "SELL", sp.extractAction("sell into strength and divest"))
	assert.Equal(t, "HOLD", sp.extractAction("maintain current exposure and wait"))
}
