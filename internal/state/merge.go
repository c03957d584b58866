package state

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// StateShapeError reports a merge-time invariant violation: a delta
// whose shape conflicts with the accumulated state, or a delta writing
// a data key its agent never declared. Always fatal to the run.
type StateShapeError struct {
	Agent  string
	Key    string
	Reason string
}

func (e *StateShapeError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("state shape violation at %q (agent %s): %s", e.Key, e.Agent, e.Reason)
	}
	return fmt.Sprintf("state shape violation at %q: %s", e.Key, e.Reason)
}

// Merge combines an agent's delta into the accumulated state and
// returns the result. Neither input is mutated.
//
// Rules:
//   - Messages are concatenated, delta after existing (fan-in order is
//     the caller's completion order).
//   - Data and Metadata are key-wise unions. When both sides hold a
//     mapping under the same key the mappings are deep-merged; when
//     both hold scalars the delta wins (last-applied-wins); a mapping
//     on one side and a scalar on the other is a StateShapeError.
//
// For deltas touching disjoint keys the operation is associative and
// commutative over the set of deltas applied, which is what makes the
// parallel groups order-independent.
func Merge(existing, delta *AnalysisState) (*AnalysisState, error) {
	if existing == nil {
		existing = New()
	}
	if delta == nil {
		return existing, nil
	}

	messages := make([]*schema.Message, 0, len(existing.Messages)+len(delta.Messages))
	messages = append(messages, existing.Messages...)
	messages = append(messages, delta.Messages...)
	merged := &AnalysisState{Messages: messages}

	data, err := mergeMaps(existing.Data, delta.Data, "data")
	if err != nil {
		return nil, err
	}
	meta, err := mergeMaps(existing.Metadata, delta.Metadata, "metadata")
	if err != nil {
		return nil, err
	}
	merged.Data = data
	merged.Metadata = meta
	return merged, nil
}

// ValidateDelta enforces an agent's declared key schema: every
// top-level data key the delta writes must be in allowed. Metadata and
// messages are not schema-checked.
func ValidateDelta(agent string, delta *AnalysisState, allowed map[string]bool) error {
	if delta == nil {
		return nil
	}
	for key := range delta.Data {
		if !allowed[key] {
			return &StateShapeError{Agent: agent, Key: key, Reason: "key not declared by agent"}
		}
	}
	return nil
}

func mergeMaps(existing, delta map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(existing)+len(delta))
	for k, v := range existing {
		out[k] = v
	}
	for k, dv := range delta {
		ev, present := out[k]
		if !present {
			out[k] = dv
			continue
		}
		em, eIsMap := ev.(map[string]any)
		dm, dIsMap := dv.(map[string]any)
		switch {
		case eIsMap && dIsMap:
			nested, err := mergeMaps(em, dm, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = nested
		case eIsMap != dIsMap:
			return nil, &StateShapeError{
				Key:    path + "." + k,
				Reason: "mapping and non-mapping values for the same key",
			}
		default:
			// Scalar collision: last-applied wins.
			out[k] = dv
		}
	}
	return out, nil
}
