package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

// OutcomeKind discriminates the three terminal states of a run.
type OutcomeKind int

const (
	// Suspended: the executing node requested external input; the
	// checkpoint was updated so the next resume re-enters that node.
	Suspended OutcomeKind = iota
	// Completed: the graph reached a node with no further successors.
	Completed
	// HandoffRequested: a node signaled transfer to another workflow.
	HandoffRequested
)

// Outcome is the result of running a graph until it suspends, terminates,
// or hands off. Path records the executed node names in order.
type Outcome struct {
	Kind    OutcomeKind
	Suspend *Suspend
	Handoff *Handoff
	Path    []string
}

// Run executes the graph against state, starting at the checkpoint's
// suspended node if set, otherwise at the start node. The resumed input is
// consumed by the first node only. On suspension the checkpoint is updated
// in place with the pre-update state snapshot and the suspend payload;
// persisting it is the caller's responsibility.
//
// The engine does not bound loops: any node that can route back to an
// earlier node must consult a loop counter in its own state. That is a
// required property of every workflow definition, enforced by tests rather
// than by the engine.
func (g *Graph[S]) Run(ctx context.Context, chk *Checkpoint, state *S, in Input) (*Outcome, error) {
	cur := g.start
	if chk.SuspendedAt != "" {
		if _, ok := g.nodes[chk.SuspendedAt]; !ok {
			return nil, fmt.Errorf("graph %s: checkpoint suspended at unknown node %q", g.name, chk.SuspendedAt)
		}
		cur = chk.SuspendedAt
	}

	input := in
	var path []string

	for {
		fn, ok := g.nodes[cur]
		if !ok {
			return nil, fmt.Errorf("graph %s: unknown node %q", g.name, cur)
		}
		path = append(path, cur)

		// Pre-update snapshot: the state a resume must re-enter with.
		pre, err := sonic.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("graph %s: snapshot state at %q: %w", g.name, cur, err)
		}

		log.Debug().Str("graph", g.name).Str("node", cur).Bool("resumed", input.Resumed).Msg("executing node")

		res, err := fn(ctx, state, input)
		if err != nil {
			return nil, fmt.Errorf("graph %s: node %q: %w", g.name, cur, err)
		}
		input = Input{} // resumed input is consumed by the first node

		if res.Suspend != nil {
			chk.SuspendedAt = cur
			chk.State = pre
			chk.Pending = res.Suspend
			chk.UpdatedAt = time.Now()
			log.Debug().Str("graph", g.name).Str("node", cur).Str("question", res.Suspend.Question).Msg("suspended")
			return &Outcome{Kind: Suspended, Suspend: res.Suspend, Path: path}, nil
		}
		chk.SuspendedAt = ""
		chk.Pending = nil

		if res.Handoff != nil {
			log.Info().Str("graph", g.name).Str("node", cur).Str("target", res.Handoff.Target).Msg("handoff requested")
			return &Outcome{Kind: HandoffRequested, Handoff: res.Handoff, Path: path}, nil
		}

		// A node choosing its own successor overrides both static and
		// conditional edges. Conditional edges are only consulted when
		// the node abstains. Self-selected successors must have been
		// declared via AddGoto so compile-time validation cannot be
		// bypassed at run time.
		next := res.Next
		if next != "" {
			if next != End && !g.gotos[cur][next] {
				return nil, fmt.Errorf("graph %s: node %q selected undeclared successor %q", g.name, cur, next)
			}
		} else {
			if br, ok := g.branches[cur]; ok {
				next = br.pick(state)
				if next != End && !br.targets[next] {
					return nil, fmt.Errorf("graph %s: branch at %q returned undeclared target %q", g.name, cur, next)
				}
			} else {
				next = g.edges[cur]
			}
		}

		if next == "" || next == End {
			log.Debug().Str("graph", g.name).Str("node", cur).Msg("completed")
			return &Outcome{Kind: Completed, Path: path}, nil
		}
		cur = next
	}
}
