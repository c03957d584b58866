package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantclan/HedgeCouncil/internal/capability"
	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
)

func writerNode(id string, deps []string, delay time.Duration) *Node {
	return &Node{
		ID:         id,
		DependsOn:  deps,
		WritesKeys: []string{id},
		Run: func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			d := state.Delta()
			d.Data[id] = map[string]any{"from": id}
			return d, nil
		},
	}
}

func newRun(t *testing.T, reg *registry.Registry) string {
	t.Helper()
	return reg.Create("AAPL", nil)
}

func TestEngineRunsDiamondToCompletion(t *testing.T) {
	reg := registry.New()
	g, err := NewGraph(
		writerNode("collect", nil, 0),
		writerNode("left", []string{"collect"}, 5*time.Millisecond),
		writerNode("right", []string{"collect"}, 0),
		writerNode("join", []string{"left", "right"}, 0),
	)
	require.NoError(t, err)

	runID := newRun(t, reg)
	final, err := NewEngine(reg, nil).Run(context.Background(), g, runID, state.New())
	require.NoError(t, err)

	for _, key := range []string{"collect", "left", "right", "join"} {
		assert.Contains(t, final.Data, key)
	}
	rec, err := reg.Get(runID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRunning, rec.Status, "engine leaves terminal success to the caller")
}

func TestEngineFinalStateInvariantToCompletionOrder(t *testing.T) {
	// Parallel writers with shuffled latencies must always produce the
	// same data mapping when their keys are disjoint.
	delays := [][]time.Duration{
		{0, 2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond},
		{6 * time.Millisecond, 4 * time.Millisecond, 2 * time.Millisecond, 0},
		{3 * time.Millisecond, 0, 5 * time.Millisecond, time.Millisecond},
	}

	var want map[string]any
	for _, ds := range delays {
		reg := registry.New()
		g, err := NewGraph(
			writerNode("collect", nil, 0),
			writerNode("technical", []string{"collect"}, ds[0]),
			writerNode("fundamental", []string{"collect"}, ds[1]),
			writerNode("sentiment", []string{"collect"}, ds[2]),
			writerNode("valuation", []string{"collect"}, ds[3]),
			writerNode("decision", []string{"technical", "fundamental", "sentiment", "valuation"}, 0),
		)
		require.NoError(t, err)

		final, err := NewEngine(reg, nil).Run(context.Background(), g, newRun(t, reg), state.New())
		require.NoError(t, err)
		if want == nil {
			want = final.Data
			continue
		}
		assert.Equal(t, want, final.Data)
	}
}

func TestEngineGroupBStartsOnlyAfterGroupAMerged(t *testing.T) {
	var groupADone atomic.Int32
	barrierRespected := atomic.Bool{}
	barrierRespected.Store(true)

	groupA := func(id string) *Node {
		return &Node{
			ID: id, DependsOn: []string{"collect"}, WritesKeys: []string{id},
			Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
				time.Sleep(2 * time.Millisecond)
				groupADone.Add(1)
				d := state.Delta()
				d.Data[id] = map[string]any{}
				return d, nil
			},
		}
	}
	groupB := func(id string) *Node {
		return &Node{
			ID: id, DependsOn: []string{"a1", "a2", "a3"}, WritesKeys: []string{id},
			Run: func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
				if groupADone.Load() != 3 {
					barrierRespected.Store(false)
				}
				for _, key := range []string{"a1", "a2", "a3"} {
					if _, ok := snapshot.Data[key]; !ok {
						barrierRespected.Store(false)
					}
				}
				d := state.Delta()
				d.Data[id] = map[string]any{}
				return d, nil
			},
		}
	}

	reg := registry.New()
	g, err := NewGraph(
		writerNode("collect", nil, 0),
		groupA("a1"), groupA("a2"), groupA("a3"),
		groupB("b1"), groupB("b2"),
		writerNode("sink", []string{"b1", "b2"}, 0),
	)
	require.NoError(t, err)

	_, err = NewEngine(reg, nil).Run(context.Background(), g, newRun(t, reg), state.New())
	require.NoError(t, err)
	assert.True(t, barrierRespected.Load())
}

func TestEnginePermanentFailureFailsRunAndSkipsDownstream(t *testing.T) {
	sinkRan := atomic.Bool{}
	failing := &Node{
		ID: "fundamental", DependsOn: []string{"collect"}, WritesKeys: []string{"fundamental"},
		Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
			return nil, capability.Permanent("data", errors.New("unknown ticker"))
		},
	}
	sink := &Node{
		ID: "decision", DependsOn: []string{"technical", "fundamental"}, WritesKeys: []string{"decision"},
		Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
			sinkRan.Store(true)
			return state.Delta(), nil
		},
	}

	reg := registry.New()
	g, err := NewGraph(
		writerNode("collect", nil, 0),
		writerNode("technical", []string{"collect"}, 0),
		failing,
		sink,
	)
	require.NoError(t, err)

	runID := newRun(t, reg)
	_, err = NewEngine(reg, nil).Run(context.Background(), g, runID, state.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fundamental")

	rec, getErr := reg.Get(runID)
	require.NoError(t, getErr)
	assert.Equal(t, registry.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.False(t, sinkRan.Load())
}

func TestEngineUndeclaredKeyIsStateShapeError(t *testing.T) {
	rogue := &Node{
		ID: "rogue", DependsOn: []string{"collect"}, WritesKeys: []string{"rogue"},
		Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
			d := state.Delta()
			d.Data["stolen_key"] = 1
			return d, nil
		},
	}
	reg := registry.New()
	g, err := NewGraph(writerNode("collect", nil, 0), rogue)
	require.NoError(t, err)

	runID := newRun(t, reg)
	_, err = NewEngine(reg, nil).Run(context.Background(), g, runID, state.New())
	var shapeErr *state.StateShapeError
	require.ErrorAs(t, err, &shapeErr)

	rec, _ := reg.Get(runID)
	assert.Equal(t, registry.StatusFailed, rec.Status)
}

func TestEngineCancellationDiscardsLateDeltas(t *testing.T) {
	started := make(chan struct{})
	slow := &Node{
		ID: "slow", DependsOn: []string{"collect"}, WritesKeys: []string{"slow"},
		Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
			close(started)
			// Ignores cancellation and eventually returns a delta; the
			// engine must discard it.
			time.Sleep(20 * time.Millisecond)
			d := state.Delta()
			d.Data["slow"] = map[string]any{}
			return d, nil
		},
	}
	reg := registry.New()
	g, err := NewGraph(writerNode("collect", nil, 0), slow)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	runID := newRun(t, reg)
	_, err = NewEngine(reg, nil).Run(ctx, g, runID, state.New())
	require.ErrorIs(t, err, context.Canceled)

	rec, _ := reg.Get(runID)
	assert.Equal(t, registry.StatusFailed, rec.Status)
}

func TestEngineCancelledRunNeverCompletes(t *testing.T) {
	// With a pre-cancelled context the result and the Done channel race
	// inside the engine's select; whichever wins, the run must fail.
	for i := 0; i < 200; i++ {
		reg := registry.New()
		g, err := NewGraph(writerNode("collect", nil, 0))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		runID := newRun(t, reg)
		final, err := NewEngine(reg, nil).Run(ctx, g, runID, state.New())
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, final)

		rec, getErr := reg.Get(runID)
		require.NoError(t, getErr)
		require.Equal(t, registry.StatusFailed, rec.Status)
	}
}

func TestEngineCurrentStageTracksDispatch(t *testing.T) {
	release := make(chan struct{})
	blocked := &Node{
		ID: "blocked", DependsOn: []string{"collect"}, WritesKeys: []string{"blocked"},
		Run: func(ctx context.Context, _ *state.AnalysisState) (*state.AnalysisState, error) {
			<-release
			d := state.Delta()
			d.Data["blocked"] = map[string]any{}
			return d, nil
		},
	}
	reg := registry.New()
	g, err := NewGraph(writerNode("collect", nil, 0), blocked)
	require.NoError(t, err)

	runID := newRun(t, reg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = NewEngine(reg, nil).Run(context.Background(), g, runID, state.New())
	}()

	require.Eventually(t, func() bool {
		rec, err := reg.Get(runID)
		return err == nil && rec.Status == registry.StatusRunning && rec.CurrentStage == "blocked"
	}, time.Second, time.Millisecond)

	close(release)
	<-done
}
