package state

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// AnalysisState is the value threaded through the workflow graph. Each
// agent receives a frozen snapshot and returns a delta; deltas are
// combined by Merge. An agent must never mutate the state it receives.
type AnalysisState struct {
	// Messages is the append-only conversation log, concatenated in
	// fan-in order across the run.
	Messages []*schema.Message `json:"messages"`
	// Data holds each agent's named contribution, keyed by the state
	// keys in consts.
	Data map[string]any `json:"data"`
	// Metadata holds cross-cutting fields (reasoning visibility,
	// run id, capital parameters).
	Metadata map[string]any `json:"metadata"`
}

func New() *AnalysisState {
	return &AnalysisState{
		Messages: []*schema.Message{},
		Data:     map[string]any{},
		Metadata: map[string]any{},
	}
}

// Delta returns an empty state suitable for an agent's partial result.
func Delta() *AnalysisState {
	return New()
}

// Clone returns a deep copy via a JSON round-trip, so the caller can
// hand it to a concurrently running agent without sharing mutable
// maps. Values that do not survive JSON (channels, funcs) are not
// legal state values in the first place.
func (s *AnalysisState) Clone() (*AnalysisState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out AnalysisState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return &out, nil
}

// Snapshot renders the state as a plain JSON-generic document for the
// run registry. Returns nil when serialization fails; the registry
// treats a nil snapshot as "not recorded".
func (s *AnalysisState) Snapshot() map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// DataMap fetches a nested mapping out of Data, tolerating both typed
// and JSON-generic values.
func (s *AnalysisState) DataMap(key string) (map[string]any, bool) {
	v, ok := s.Data[key]
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	return m, ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	default:
		// Typed contributions (structs) count as mappings when they
		// serialize to a JSON object.
		raw, err := json.Marshal(v)
		if err != nil || len(raw) == 0 || raw[0] != '{' {
			return nil, false
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, false
		}
		return out, true
	}
}
