// Package graph implements the workflow execution engine: immutable graphs
// of named nodes connected by static and conditional edges, executed against
// a checkpoint so that a run can suspend at an interactive node and resume
// later from the exact point of suspension.
package graph

import (
	"context"
	"fmt"
)

// Input carries the per-turn inputs into node execution. On a fresh start,
// Message holds the user's message. On a resume, Resumed is true, Resume
// holds the user's answer, and Pending holds the payload captured at
// suspension so the node can reconstruct the question it asked.
type Input struct {
	Message string
	Resume  string
	Resumed bool
	Pending *Suspend
}

// Suspend is the payload attached when a node pauses for external input.
// It is forwarded verbatim to the caller and persisted in the checkpoint.
type Suspend struct {
	Type     string         `json:"type"`
	Question string         `json:"question"`
	Hints    map[string]any `json:"hints,omitempty"`
}

// Handoff signals that control should transfer to a different workflow,
// carrying a transformed subset of state in Bag.
type Handoff struct {
	Target string         `json:"target"`
	Bag    map[string]any `json:"bag"`
}

// NodeResult is a node's verdict for the current step. A non-empty Next
// overrides both static and conditional edges. Suspend and Handoff are
// mutually exclusive with Next.
type NodeResult struct {
	Next    string
	Suspend *Suspend
	Handoff *Handoff
}

// NodeFunc executes one step over the typed node-local state. Nodes mutate
// the state directly; interactive nodes must not mutate before suspending so
// the checkpoint captures a self-consistent pre-update snapshot.
type NodeFunc[S any] func(ctx context.Context, s *S, in Input) (NodeResult, error)

type branch[S any] struct {
	pick    func(*S) string
	targets map[string]bool
}

// End as a successor name terminates the graph, equivalent to having no
// successor at all.
const End = "end"

// Graph is an immutable workflow definition, compiled once at process start
// and shared read-only across all sessions.
type Graph[S any] struct {
	name     string
	start    string
	nodes    map[string]NodeFunc[S]
	edges    map[string]string
	branches map[string]branch[S]
	gotos    map[string]map[string]bool
}

// Name returns the workflow type name the graph was built with.
func (g *Graph[S]) Name() string { return g.name }

// Builder accumulates a graph definition before compilation.
type Builder[S any] struct {
	g    *Graph[S]
	errs []error
}

func NewBuilder[S any](name string) *Builder[S] {
	return &Builder[S]{
		g: &Graph[S]{
			name:     name,
			nodes:    make(map[string]NodeFunc[S]),
			edges:    make(map[string]string),
			branches: make(map[string]branch[S]),
			gotos:    make(map[string]map[string]bool),
		},
	}
}

func (b *Builder[S]) AddNode(name string, fn NodeFunc[S]) *Builder[S] {
	if name == "" || fn == nil {
		b.errs = append(b.errs, fmt.Errorf("graph %s: node name and func are required", b.g.name))
		return b
	}
	if _, dup := b.g.nodes[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("graph %s: duplicate node %q", b.g.name, name))
		return b
	}
	b.g.nodes[name] = fn
	return b
}

func (b *Builder[S]) SetStart(name string) *Builder[S] {
	b.g.start = name
	return b
}

// AddEdge declares the static successor of a node.
func (b *Builder[S]) AddEdge(from, to string) *Builder[S] {
	b.g.edges[from] = to
	return b
}

// AddBranch declares a conditional edge: pick is evaluated against the
// just-updated state and must return one of targets.
func (b *Builder[S]) AddBranch(from string, pick func(*S) string, targets ...string) *Builder[S] {
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	b.g.branches[from] = branch[S]{pick: pick, targets: set}
	return b
}

// AddGoto declares the successors a node may select for itself via
// NodeResult.Next. Self-selection takes precedence over both static and
// conditional edges; declaring the targets keeps them visible to
// reachability validation.
func (b *Builder[S]) AddGoto(from string, targets ...string) *Builder[S] {
	set := b.g.gotos[from]
	if set == nil {
		set = make(map[string]bool, len(targets))
		b.g.gotos[from] = set
	}
	for _, t := range targets {
		set[t] = true
	}
	return b
}

// Compile validates the definition: the start node exists, every edge and
// branch target names a declared node, and every node is reachable from
// start. The returned graph is immutable.
func (b *Builder[S]) Compile() (*Graph[S], error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	g := b.g
	if g.start == "" {
		return nil, fmt.Errorf("graph %s: start node not set", g.name)
	}
	if _, ok := g.nodes[g.start]; !ok {
		return nil, fmt.Errorf("graph %s: start node %q not declared", g.name, g.start)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: edge from unknown node %q", g.name, from)
		}
		if _, ok := g.nodes[to]; !ok {
			return nil, fmt.Errorf("graph %s: edge %q -> unknown node %q", g.name, from, to)
		}
	}
	for from, br := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: branch on unknown node %q", g.name, from)
		}
		for t := range br.targets {
			if _, ok := g.nodes[t]; !ok {
				return nil, fmt.Errorf("graph %s: branch %q -> unknown target %q", g.name, from, t)
			}
		}
	}
	for from, set := range g.gotos {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph %s: goto on unknown node %q", g.name, from)
		}
		for t := range set {
			if t == End {
				continue
			}
			if _, ok := g.nodes[t]; !ok {
				return nil, fmt.Errorf("graph %s: goto %q -> unknown target %q", g.name, from, t)
			}
		}
	}
	if err := g.checkReachability(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkReachability walks static edges, branch targets, and declared gotos
// from the start node.
func (g *Graph[S]) checkReachability() error {
	seen := map[string]bool{g.start: true}
	queue := []string{g.start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		var succs []string
		if to, ok := g.edges[cur]; ok {
			succs = append(succs, to)
		}
		if br, ok := g.branches[cur]; ok {
			for t := range br.targets {
				succs = append(succs, t)
			}
		}
		for t := range g.gotos[cur] {
			if t != End {
				succs = append(succs, t)
			}
		}
		for _, s := range succs {
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	for name := range g.nodes {
		if !seen[name] {
			return fmt.Errorf("graph %s: node %q unreachable from start", g.name, name)
		}
	}
	return nil
}
