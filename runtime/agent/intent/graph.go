package intent

import (
	"errors"
	"fmt"
	"slices"

	"goa.design/agentkernel/runtime/agent"
)

var (
	// ErrForwardDependency indicates a node depends on an intent from a later
	// step or on a later node of its own step.
	ErrForwardDependency = errors.New("dependency must reference an earlier intent")
	// ErrUnknownDependency indicates a dependency that is neither in the graph
	// nor already completed.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateIntent indicates two nodes share an identifier.
	ErrDuplicateIntent = errors.New("duplicate intent id")
	// ErrNilIntent indicates a node without an intent.
	ErrNilIntent = errors.New("nil intent")
)

type (
	// Node wraps an intent with its identifier, dependencies and priority.
	Node struct {
		// ID is the deterministic intent identifier.
		ID agent.IntentID
		// Intent is the proposed action.
		Intent Intent
		// Deps lists the intents that must complete before this one starts.
		Deps []agent.IntentID
		// Priority orders ready nodes; higher runs first.
		Priority int
	}

	// NodeOption configures a node added to a Builder.
	NodeOption func(*Node)

	// Builder accumulates the nodes proposed during one kernel step.
	Builder struct {
		step  uint64
		nodes []Node
	}

	// Graph is a DAG of intent nodes. Graphs returned by Builder.Build are
	// immutable; the pending graph owned by the session grows through Merge.
	Graph struct {
		step  uint64
		nodes []Node
		index map[agent.IntentID]int
	}
)

// DependsOn adds dependency edges to the node.
func DependsOn(ids ...agent.IntentID) NodeOption {
	return func(n *Node) { n.Deps = append(n.Deps, ids...) }
}

// WithPriority sets the node priority.
func WithPriority(p int) NodeOption {
	return func(n *Node) { n.Priority = p }
}

// NewBuilder returns a builder for the graph created at the given step.
func NewBuilder(step uint64) *Builder {
	return &Builder{step: step}
}

// Step returns the step the builder assigns to new nodes.
func (b *Builder) Step() uint64 { return b.step }

// Len returns the number of nodes added so far.
func (b *Builder) Len() int { return len(b.nodes) }

// NextID returns the identifier the next Add call will assign.
func (b *Builder) NextID() agent.IntentID {
	return agent.IntentID{Step: b.step, Index: uint32(len(b.nodes))}
}

// Add appends a node and returns its identifier.
func (b *Builder) Add(in Intent, opts ...NodeOption) agent.IntentID {
	n := Node{ID: b.NextID(), Intent: in}
	for _, o := range opts {
		o(&n)
	}
	b.nodes = append(b.nodes, n)
	return n.ID
}

// Reset drops every node added so far. Identifiers handed out before the
// reset are reused by subsequent Add calls.
func (b *Builder) Reset() {
	b.nodes = nil
}

// Build validates the accumulated nodes and returns the step graph.
func (b *Builder) Build() (*Graph, error) {
	if b.step == 0 && len(b.nodes) > 0 {
		return nil, errors.New("graph step must be positive")
	}
	g := &Graph{step: b.step, index: make(map[agent.IntentID]int, len(b.nodes))}
	for _, n := range b.nodes {
		if n.Intent == nil {
			return nil, fmt.Errorf("intent %s: %w", n.ID, ErrNilIntent)
		}
		n.Deps = normalizeDeps(n.Deps)
		for _, d := range n.Deps {
			if !d.Less(n.ID) {
				return nil, fmt.Errorf("intent %s depends on %s: %w", n.ID, d, ErrForwardDependency)
			}
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	return g, nil
}

// NewGraph returns an empty graph, typically used as the session's pending
// graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[agent.IntentID]int)}
}

// Step returns the step the graph was built at. For merged graphs this is
// the most recent merged step.
func (g *Graph) Step() uint64 { return g.step }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Empty reports whether the graph has no nodes.
func (g *Graph) Empty() bool { return len(g.nodes) == 0 }

// Nodes returns a copy of the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	return slices.Clone(g.nodes)
}

// IDs returns the node identifiers in insertion order.
func (g *Graph) IDs() []agent.IntentID {
	ids := make([]agent.IntentID, len(g.nodes))
	for i, n := range g.nodes {
		ids[i] = n.ID
	}
	return ids
}

// Node returns the node with the given identifier.
func (g *Graph) Node(id agent.IntentID) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// ReadyNodes returns, in ascending identifier order, the nodes that are not
// completed and whose dependencies are all completed.
func (g *Graph) ReadyNodes(completed Set) []agent.IntentID {
	var ready []agent.IntentID
	for _, n := range g.nodes {
		if completed.Has(n.ID) {
			continue
		}
		if completed.HasAll(n.Deps) {
			ready = append(ready, n.ID)
		}
	}
	slices.SortFunc(ready, agent.IntentID.Compare)
	return ready
}

// IsComplete reports whether every node of the graph is completed.
func (g *Graph) IsComplete(completed Set) bool {
	for _, n := range g.nodes {
		if !completed.Has(n.ID) {
			return false
		}
	}
	return true
}

// Merge appends the nodes of next to g. Existing nodes and edges are never
// modified. Each dependency of a merged node must be in g, earlier in next or
// already completed; identifiers must be unique.
func (g *Graph) Merge(next *Graph, completed Set) error {
	if next == nil || next.Empty() {
		return nil
	}
	for _, n := range next.nodes {
		if _, dup := g.index[n.ID]; dup || completed.Has(n.ID) {
			return fmt.Errorf("merge %s: %w", n.ID, ErrDuplicateIntent)
		}
	}
	for _, n := range next.nodes {
		for _, d := range n.Deps {
			if !d.Less(n.ID) {
				return fmt.Errorf("merge %s depends on %s: %w", n.ID, d, ErrForwardDependency)
			}
			if _, ok := g.index[d]; !ok && !completed.Has(d) {
				if _, ok := next.index[d]; !ok {
					return fmt.Errorf("merge %s depends on %s: %w", n.ID, d, ErrUnknownDependency)
				}
			}
		}
	}
	for _, n := range next.nodes {
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	if next.step > g.step {
		g.step = next.step
	}
	return nil
}

func normalizeDeps(deps []agent.IntentID) []agent.IntentID {
	if len(deps) == 0 {
		return nil
	}
	out := slices.Clone(deps)
	slices.SortFunc(out, agent.IntentID.Compare)
	return slices.Compact(out)
}
