// Package instrument composes an observation layer around agent and
// LLM invocations. Agents stay unaware of the run registry: the
// wrapper snapshots their inputs and outputs, and an observer carried
// through the context picks up reasoning text and the latest LLM
// exchange. Instrumentation is strictly an observer: a failure while
// recording never alters the wrapped function's result.
package instrument

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantclan/HedgeCouncil/internal/registry"
	"github.com/quantclan/HedgeCouncil/internal/state"
	"github.com/quantclan/HedgeCouncil/internal/workflow"
)

// StepObserver accumulates what one agent invocation wants remembered:
// reasoning text and the most recent LLM request/response pair.
type StepObserver struct {
	mu          sync.Mutex
	reasoning   string
	llmRequest  any
	llmResponse any
}

func (o *StepObserver) setReasoning(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasoning = text
}

func (o *StepObserver) setLLM(request, response any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.llmRequest = request
	o.llmResponse = response
}

func (o *StepObserver) view() (reasoning string, request, response any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reasoning, o.llmRequest, o.llmResponse
}

type observerKey struct{}

func withObserver(ctx context.Context, o *StepObserver) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

func observerFrom(ctx context.Context) *StepObserver {
	o, _ := ctx.Value(observerKey{}).(*StepObserver)
	return o
}

// RecordReasoning attaches an agent's reasoning text to the current
// step. A no-op outside an instrumented invocation.
func RecordReasoning(ctx context.Context, text string) {
	if o := observerFrom(ctx); o != nil {
		o.setReasoning(text)
	}
}

// RecordLLM attaches the latest LLM request/response to the current
// step. Called by the LLM client wrapper, not by agents.
func RecordLLM(ctx context.Context, request, response any) {
	if o := observerFrom(ctx); o != nil {
		o.setLLM(request, response)
	}
}

// Instrumentor implements workflow.Wrapper over the run registry.
type Instrumentor struct {
	reg *registry.Registry
	log *slog.Logger
}

func New(reg *registry.Registry, logger *slog.Logger) *Instrumentor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumentor{reg: reg, log: logger}
}

// Wrap returns fn with recording composed around it. The wrapped
// function's delta and error pass through untouched.
func (i *Instrumentor) Wrap(runID string, node *workflow.Node, fn workflow.AgentFunc) workflow.AgentFunc {
	return func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error) {
		observer := &StepObserver{}
		started := time.Now().UTC()
		input := i.snapshot(snapshot, runID, node.ID)

		delta, err := fn(withObserver(ctx, observer), snapshot)

		step := registry.AgentStep{
			AgentID:    node.ID,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Input:      input,
			Output:     i.snapshot(delta, runID, node.ID),
		}
		step.Reasoning, step.LLMRequest, step.LLMResponse = observer.view()
		if err != nil {
			step.Err = err.Error()
		}
		if recErr := i.reg.RecordAgentStep(runID, step); recErr != nil {
			i.log.Warn("agent step not recorded", "run_id", runID, "agent", node.ID, "err", recErr)
		}
		return delta, err
	}
}

// snapshot serializes a state for the registry, swallowing anything
// that goes wrong (including panics from hostile values).
func (i *Instrumentor) snapshot(s *state.AnalysisState, runID, agentID string) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Warn("state snapshot failed", "run_id", runID, "agent", agentID, "panic", r)
			out = nil
		}
	}()
	if s == nil {
		return nil
	}
	return s.Snapshot()
}
