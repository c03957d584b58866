package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

func TestWrapRecordsStepWithoutChangingResult(t *testing.T) {
	reg := registry.New()
	runID := reg.Create("AAPL", nil)
	node := &workflow.Node{ID: "sentiment_analysis"}

	fn := func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		RecordReasoning(ctx, "news flow looks constructive")
		RecordLLM(ctx, "score these articles", "0.6")
		d := state.Delta()
		d.Data["sentiment_analysis"] = map[string]any{"score": 0.6}
		return d, nil
	}

	snapshot := state.New()
	snapshot.Data["ticker"] = "AAPL"

	delta, err := New(reg, nil).Wrap(runID, node, fn)(context.Background(), snapshot)
	require.NoError(t, err)
	require.NotNil(t, delta)
	assert.Contains(t, delta.Data, "sentiment_analysis")

	rec, err := reg.Get(runID)
	require.NoError(t, err)
	step, ok := rec.AgentSteps["sentiment_analysis"]
	require.True(t, ok)
	assert.Equal(t, "news flow looks constructive", step.Reasoning)
	assert.Equal(t, "score these articles", step.LLMRequest)
	assert.Equal(t, "0.6", step.LLMResponse)
	assert.Equal(t, "AAPL", step.Input["data"].(map[string]any)["ticker"])
	assert.NotNil(t, step.Output)
	assert.False(t, step.FinishedAt.Before(step.StartedAt))
}

func TestWrapPassesErrorsThroughAndRecordsThem(t *testing.T) {
	reg := registry.New()
	runID := reg.Create("AAPL", nil)
	node := &workflow.Node{ID: "fundamental_analysis"}
	boom := errors.New("metrics unavailable")

	fn := func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
		return nil, boom
	}

	_, err := New(reg, nil).Wrap(runID, node, fn)(context.Background(), state.New())
	assert.ErrorIs(t, err, boom)

	rec, _ := reg.Get(runID)
	step := rec.AgentSteps["fundamental_analysis"]
	assert.Equal(t, "metrics unavailable", step.Err)
	assert.Nil(t, step.Output)
}

func TestWrapSurvivesUnknownRun(t *testing.T) {
	reg := registry.New()
	node := &workflow.Node{ID: "technical_analysis"}
	fn := func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
		return state.Delta(), nil
	}

	// Recording fails (no such run); the agent result is untouched.
	delta, err := New(reg, nil).Wrap("missing-run", node, fn)(context.Background(), state.New())
	require.NoError(t, err)
	assert.NotNil(t, delta)
}

func TestRecordHelpersAreNoOpsWithoutObserver(t *testing.T) {
	RecordReasoning(context.Background(), "ignored")
	RecordLLM(context.Background(), "ignored", "ignored")
}
