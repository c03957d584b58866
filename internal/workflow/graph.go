// Package workflow holds the static dependency graph of analysis
// agents and the engine that walks it: fan-out of ready nodes, fan-in
// merges in completion order, run-registry snapshots after every
// stage.
package workflow

import (
	"context"
	"fmt"

	"github.com/quantclan/HedgeCouncil/internal/state"
)

// AgentFunc is one analysis unit: a frozen state snapshot in, a delta
// out. Implementations must not mutate the snapshot.
type AgentFunc func(ctx context.Context, snapshot *state.AnalysisState) (*state.AnalysisState, error)

// Node describes one agent in the graph. Static after startup.
type Node struct {
	ID          string
	Description string
	// DependsOn lists upstream node ids; the node may not start until
	// every listed node's delta has been merged.
	DependsOn []string
	// WritesKeys declares the top-level data keys this agent's deltas
	// may write. Enforced at merge time.
	WritesKeys []string
	Run        AgentFunc
}

// Graph is the static topology, built once and validated at startup.
type Graph struct {
	nodes map[string]*Node
	order []string // declaration order, the deterministic tie-break
	source,
	sink string
}

// NewGraph validates the topology: every dependency resolves, there is
// exactly one source and one sink, no cycles, and every node is
// reachable from the source. Violations are configuration errors.
func NewGraph(nodes ...*Node) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("workflow: node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("workflow: duplicate node %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	dependents := map[string]int{}
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("workflow: node %q depends on unknown node %q", id, dep)
			}
			dependents[dep]++
		}
	}

	var sources, sinks []string
	for _, id := range g.order {
		if len(g.nodes[id].DependsOn) == 0 {
			sources = append(sources, id)
		}
		if dependents[id] == 0 {
			sinks = append(sinks, id)
		}
	}
	if len(sources) != 1 {
		return nil, fmt.Errorf("workflow: want exactly one source node, have %v", sources)
	}
	if len(sinks) != 1 {
		return nil, fmt.Errorf("workflow: want exactly one sink node, have %v", sinks)
	}
	g.source = sources[0]
	g.sink = sinks[0]

	if err := g.checkAcyclicAndReachable(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) checkAcyclicAndReachable() error {
	// Kahn's algorithm over declaration order keeps the canonical
	// topological order deterministic.
	indegree := map[string]int{}
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].DependsOn)
	}
	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, other := range g.order {
			for _, dep := range g.nodes[other].DependsOn {
				if dep == id {
					indegree[other]--
					if indegree[other] == 0 {
						queue = append(queue, other)
					}
				}
			}
		}
	}
	if visited != len(g.order) {
		return fmt.Errorf("workflow: dependency cycle detected")
	}

	reachable := map[string]bool{g.source: true}
	for changed := true; changed; {
		changed = false
		for _, id := range g.order {
			if reachable[id] {
				continue
			}
			for _, dep := range g.nodes[id].DependsOn {
				if reachable[dep] {
					reachable[id] = true
					changed = true
					break
				}
			}
		}
	}
	for _, id := range g.order {
		if !reachable[id] {
			return fmt.Errorf("workflow: node %q unreachable from source %q", id, g.source)
		}
	}
	return nil
}

// NextReady returns every node whose full dependency set is contained
// in completed and which is not itself completed, in declaration
// order.
func (g *Graph) NextReady(completed map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		ok := true
		for _, dep := range g.nodes[id].DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Source() string { return g.source }
func (g *Graph) Sink() string   { return g.sink }
func (g *Graph) Len() int       { return len(g.order) }
