// Package registry tracks one record per analysis request for the
// lifetime of the process. The registry is the only component mutated
// by more than one concurrent path; writes are serialized per run so
// agents finishing at the same instant cannot interleave a torn
// update.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunAlreadyTerminal rejects a second terminal transition.
	ErrRunAlreadyTerminal = errors.New("run already in a terminal state")
)

// AgentStep is the latest recorded invocation of one agent within a
// run: snapshots of what it saw and produced, its reasoning text, and
// the most recent LLM exchange it performed.
type AgentStep struct {
	AgentID     string         `json:"agent_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	LLMRequest  any            `json:"llm_request,omitempty"`
	LLMResponse any            `json:"llm_response,omitempty"`
	Err         string         `json:"error,omitempty"`
}

// RunRecord is one analysis request. Owned exclusively by the
// registry; callers receive copies.
type RunRecord struct {
	RunID         string               `json:"run_id"`
	Ticker        string               `json:"ticker"`
	Status        Status               `json:"status"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       *time.Time           `json:"end_time,omitempty"`
	CurrentStage  string               `json:"current_stage,omitempty"`
	Params        map[string]any       `json:"params,omitempty"`
	AgentSteps    map[string]AgentStep `json:"agent_steps"`
	FinalDecision map[string]any       `json:"final_decision,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// RunSummary is the paged list view, newest first.
type RunSummary struct {
	RunID     string     `json:"run_id"`
	Ticker    string     `json:"ticker"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Agents    []string   `json:"agents"`
}

type runEntry struct {
	mu  sync.Mutex
	rec RunRecord
}

// Registry holds every run of the process. The outer lock guards the
// run table and creation order; each entry carries its own mutex so
// per-run updates do not contend across runs.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string // creation order, oldest first
}

func New() *Registry {
	return &Registry{runs: map[string]*runEntry{}}
}

// Create allocates a new queued RunRecord and returns its id. The
// record is visible to Get before Create returns.
func (r *Registry) Create(ticker string, params map[string]any) string {
	id := uuid.NewString()
	entry := &runEntry{rec: RunRecord{
		RunID:      id,
		Ticker:     ticker,
		Status:     StatusQueued,
		StartTime:  time.Now().UTC(),
		Params:     params,
		AgentSteps: map[string]AgentStep{},
	}}

	r.mu.Lock()
	r.runs[id] = entry
	r.order = append(r.order, id)
	r.mu.Unlock()
	return id
}

func (r *Registry) entry(runID string) (*runEntry, error) {
	r.mu.RLock()
	entry, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return entry, nil
}

// Claim transitions queued -> running. Idempotent when the run is
// already running; rejected once the run is terminal.
func (r *Registry) Claim(runID string) error {
	entry, err := r.entry(runID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunAlreadyTerminal, runID, entry.rec.Status)
	}
	entry.rec.Status = StatusRunning
	return nil
}

// SetCurrentStage records the stage the engine is dispatching, for
// status polling.
func (r *Registry) SetCurrentStage(runID, stage string) error {
	entry, err := r.entry(runID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rec.Status.Terminal() {
		return nil
	}
	entry.rec.CurrentStage = stage
	return nil
}

// RecordAgentStep overwrites the latest entry for step.AgentID. Safe
// to call concurrently from multiple in-flight agents of one run.
func (r *Registry) RecordAgentStep(runID string, step AgentStep) error {
	entry, err := r.entry(runID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.rec.AgentSteps[step.AgentID] = step
	return nil
}

// Complete marks the run completed with its final decision. A second
// terminal transition fails with ErrRunAlreadyTerminal and leaves the
// first result untouched.
func (r *Registry) Complete(runID string, finalDecision map[string]any) error {
	return r.finish(runID, StatusCompleted, finalDecision, "")
}

// Fail marks the run failed with the error description.
func (r *Registry) Fail(runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return r.finish(runID, StatusFailed, nil, msg)
}

func (r *Registry) finish(runID string, status Status, decision map[string]any, errMsg string) error {
	entry, err := r.entry(runID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunAlreadyTerminal, runID, entry.rec.Status)
	}
	now := time.Now().UTC()
	entry.rec.Status = status
	entry.rec.EndTime = &now
	entry.rec.CurrentStage = ""
	entry.rec.FinalDecision = decision
	entry.rec.Error = errMsg
	return nil
}

// Get returns a consistent snapshot of the run, possibly stale while
// the run is in flight, never torn.
func (r *Registry) Get(runID string) (RunRecord, error) {
	entry, err := r.entry(runID)
	if err != nil {
		return RunRecord{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyRecord(entry.rec), nil
}

// List returns run summaries, newest first.
func (r *Registry) List(limit, offset int) []RunSummary {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	// Newest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if offset >= len(ids) {
		return []RunSummary{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := make([]RunSummary, 0, len(ids))
	for _, id := range ids {
		entry, err := r.entry(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		rec := entry.rec
		agents := make([]string, 0, len(rec.AgentSteps))
		for name := range rec.AgentSteps {
			agents = append(agents, name)
		}
		entry.mu.Unlock()
		out = append(out, RunSummary{
			RunID:     rec.RunID,
			Ticker:    rec.Ticker,
			Status:    rec.Status,
			StartTime: rec.StartTime,
			EndTime:   rec.EndTime,
			Agents:    agents,
		})
	}
	return out
}

// LatestAgentStep returns the most recent recorded step for an agent
// across runs, newest run first.
func (r *Registry) LatestAgentStep(agentID string) (AgentStep, string, bool) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	for i := len(ids) - 1; i >= 0; i-- {
		entry, err := r.entry(ids[i])
		if err != nil {
			continue
		}
		entry.mu.Lock()
		step, ok := entry.rec.AgentSteps[agentID]
		entry.mu.Unlock()
		if ok {
			return step, ids[i], true
		}
	}
	return AgentStep{}, "", false
}

// ActiveRuns lists runs that have not reached a terminal state.
func (r *Registry) ActiveRuns() []RunRecord {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	var out []RunRecord
	for _, id := range ids {
		entry, err := r.entry(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		if !entry.rec.Status.Terminal() {
			out = append(out, copyRecord(entry.rec))
		}
		entry.mu.Unlock()
	}
	return out
}

// copyRecord snapshots a record. Step values are stored whole and
// replaced, never mutated in place, so copying the step table is
// enough to keep readers consistent.
func copyRecord(rec RunRecord) RunRecord {
	out := rec
	out.AgentSteps = make(map[string]AgentStep, len(rec.AgentSteps))
	for k, v := range rec.AgentSteps {
		out.AgentSteps[k] = v
	}
	return out
}
