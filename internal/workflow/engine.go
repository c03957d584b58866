package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
)

// Wrapper composes an observation layer around an agent invocation at
// dispatch time. It must not change the wrapped function's result.
type Wrapper interface {
	Wrap(runID string, node *Node, fn AgentFunc) AgentFunc
}

// Engine walks a Graph for one run at a time: dispatches every ready
// node concurrently, merges deltas in completion order, and pushes
// progress into the run registry. A single Engine may serve many runs
// concurrently; it keeps no per-run state between calls.
type Engine struct {
	reg     *registry.Registry
	log     *slog.Logger
	wrapper Wrapper
}

type EngineOption func(*Engine)

// WithWrapper installs the instrumentation layer composed around each
// agent at dispatch time.
func WithWrapper(w Wrapper) EngineOption {
	return func(e *Engine) { e.wrapper = w }
}

func NewEngine(reg *registry.Registry, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{reg: reg, log: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type nodeResult struct {
	id    string
	delta *state.AnalysisState
	err   error
}

// Run executes the graph to completion and returns the final merged
// state. On the first unrecovered agent error, merge violation, or
// context cancellation the run is marked failed in the registry,
// outstanding work is cancelled, and late deltas are discarded. There
// is no partial-success terminal state.
func (e *Engine) Run(ctx context.Context, g *Graph, runID string, initial *state.AnalysisState) (*state.AnalysisState, error) {
	if err := e.reg.Claim(runID); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := e.log.With("run_id", runID)
	log.Info("workflow starting", "nodes", g.Len(), "ticker", initialTicker(initial))

	completed := make(map[string]bool, g.Len())
	inflight := make(map[string]bool, g.Len())
	// Buffered so a node finishing after cancellation never blocks.
	results := make(chan nodeResult, g.Len())
	merged := initial

	for !completed[g.Sink()] {
		for _, id := range g.NextReady(completed) {
			if inflight[id] {
				continue
			}
			node, _ := g.Node(id)
			snapshot, err := merged.Clone()
			if err != nil {
				return nil, e.failRun(runID, err)
			}
			fn := node.Run
			if e.wrapper != nil {
				fn = e.wrapper.Wrap(runID, node, fn)
			}
			inflight[id] = true
			_ = e.reg.SetCurrentStage(runID, id)
			log.Debug("dispatching agent", "agent", id)
			go func(id string, fn AgentFunc, snapshot *state.AnalysisState) {
				delta, err := fn(ctx, snapshot)
				results <- nodeResult{id: id, delta: delta, err: err}
			}(id, fn, snapshot)
		}

		if len(inflight) == 0 {
			// Unreachable with a validated graph; guard anyway.
			return nil, e.failRun(runID, fmt.Errorf("workflow stalled: no ready nodes, sink %q incomplete", g.Sink()))
		}

		select {
		case <-ctx.Done():
			// Cancellation: in-flight deltas are discarded, never
			// merged.
			log.Warn("run cancelled", "inflight", len(inflight))
			return nil, e.failRun(runID, ctx.Err())
		case res := <-results:
			delete(inflight, res.id)
			// A result queued behind cancellation must not finish the
			// run; cancelled runs never silently complete.
			if ctx.Err() != nil {
				log.Warn("run cancelled", "inflight", len(inflight))
				return nil, e.failRun(runID, ctx.Err())
			}
			if res.err != nil {
				cancel()
				log.Error("agent failed", "agent", res.id, "err", res.err)
				return nil, e.failRun(runID, fmt.Errorf("agent %s: %w", res.id, res.err))
			}
			node, _ := g.Node(res.id)
			if err := state.ValidateDelta(res.id, res.delta, keySet(node)); err != nil {
				cancel()
				return nil, e.failRun(runID, err)
			}
			next, err := state.Merge(merged, res.delta)
			if err != nil {
				cancel()
				return nil, e.failRun(runID, err)
			}
			merged = next
			completed[res.id] = true
			log.Info("agent completed", "agent", res.id, "completed", len(completed), "total", g.Len())
		}
	}

	return merged, nil
}

func (e *Engine) failRun(runID string, err error) error {
	if regErr := e.reg.Fail(runID, err); regErr != nil && !errors.Is(regErr, registry.ErrRunAlreadyTerminal) {
		e.log.Error("could not mark run failed", "run_id", runID, "err", regErr)
	}
	return err
}

func keySet(n *Node) map[string]bool {
	out := make(map[string]bool, len(n.WritesKeys))
	for _, k := range n.WritesKeys {
		out[k] = true
	}
	return out
}

func initialTicker(s *state.AnalysisState) string {
	if s == nil {
		return ""
	}
	ticker, _ := s.Data["ticker"].(string)
	return ticker
}
