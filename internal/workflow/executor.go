// Package workflow defines the per-workflow executors: each one knows how
// to seed initial node-local state, run its graph against a checkpoint, and
// project the outcome back onto the Session.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"arogya/internal/graph"
	"arogya/internal/state"
	"arogya/internal/storage"
)

// Workflow type names, as recorded on sessions and in checkpoints.
const (
	Symptoms  = "symptoms"
	Dosha     = "dosha"
	Emergency = "emergency"
	Doctors   = "doctors"
)

// Action is the caller-visible interpretation of an engine outcome.
type Action string

const (
	ActionPaused    Action = "paused"
	ActionCompleted Action = "completed"
	ActionHandedOff Action = "handed_off"
)

// ErrNoCheckpoint is returned when a resume is requested but no suspended
// checkpoint exists for the (session, workflow) pair.
var ErrNoCheckpoint = errors.New("no suspended checkpoint for workflow")

// Result is an interpreted engine outcome. Handoff is set only for
// ActionHandedOff; the supervisor trampolines it into the next workflow.
type Result struct {
	Action   Action
	Response string
	Handoff  *graph.Handoff
	Metadata map[string]any
}

// Executor runs one workflow type for a session.
type Executor interface {
	Name() string
	Start(ctx context.Context, message string, sess *state.Session) (*Result, error)
	Resume(ctx context.Context, answer string, sess *state.Session) (*Result, error)
}

// Registry maps workflow names to executors.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(execs))}
	for _, e := range execs {
		r.executors[e.Name()] = e
	}
	return r
}

func (r *Registry) Get(name string) (Executor, bool) {
	e, ok := r.executors[name]
	return e, ok
}

// hooks are the workflow-specific pieces the generic runner delegates to.
type hooks[S any] struct {
	// initial builds node-local state for a fresh start, folding in the
	// session's hand-off bag where the workflow consumes one.
	initial func(message string, sess *state.Session) *S
	// completed produces the terminal response text and metadata, and may
	// project results onto the session.
	completed func(s *S, sess *state.Session) (string, map[string]any)
	// paused builds workflow-specific pause metadata from the payload.
	paused func(p *graph.Suspend) map[string]any
	// handedOff projects results onto the session when the workflow exits
	// via hand-off instead of completion. Optional.
	handedOff func(s *S, sess *state.Session)
}

// runner is the generic executor plumbing shared by all workflow types.
type runner[S any] struct {
	name        string
	graph       *graph.Graph[S]
	checkpoints storage.CheckpointStore
	hooks       hooks[S]
}

func (r *runner[S]) Name() string { return r.name }

func (r *runner[S]) Start(ctx context.Context, message string, sess *state.Session) (*Result, error) {
	s := r.hooks.initial(message, sess)
	chk := graph.NewCheckpoint(sess.ID, r.name)
	return r.run(ctx, chk, s, sess, graph.Input{Message: message})
}

func (r *runner[S]) Resume(ctx context.Context, answer string, sess *state.Session) (*Result, error) {
	chk, err := r.checkpoints.Load(ctx, sess.ID, r.name)
	if err != nil {
		// Persistence failure on load is treated as not found.
		log.Warn().Err(err).Str("workflow", r.name).Msg("checkpoint load failed")
		chk = nil
	}
	if chk == nil || chk.SuspendedAt == "" {
		return nil, ErrNoCheckpoint
	}

	var s S
	if err := sonic.Unmarshal(chk.State, &s); err != nil {
		return nil, fmt.Errorf("workflow %s: corrupt checkpoint state: %w", r.name, err)
	}

	in := graph.Input{Resume: answer, Resumed: true, Pending: chk.Pending}
	return r.run(ctx, chk, &s, sess, in)
}

func (r *runner[S]) run(ctx context.Context, chk *graph.Checkpoint, s *S, sess *state.Session, in graph.Input) (*Result, error) {
	out, err := r.graph.Run(ctx, chk, s, in)
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case graph.Suspended:
		// Best-effort persistence: a failed save loses the pause but must
		// not fail the turn.
		if err := r.checkpoints.Save(ctx, chk); err != nil {
			log.Warn().Err(err).Str("workflow", r.name).Msg("checkpoint save failed")
		}
		sess.ActiveNode = chk.SuspendedAt
		sess.MarkAwaiting(out.Suspend.Question)

		md := map[string]any{"type": out.Suspend.Type}
		if r.hooks.paused != nil {
			for k, v := range r.hooks.paused(out.Suspend) {
				md[k] = v
			}
		}
		return &Result{Action: ActionPaused, Response: out.Suspend.Question, Metadata: md}, nil

	case graph.HandoffRequested:
		if err := r.checkpoints.Delete(ctx, sess.ID, r.name); err != nil {
			log.Warn().Err(err).Str("workflow", r.name).Msg("checkpoint delete failed")
		}
		if r.hooks.handedOff != nil {
			r.hooks.handedOff(s, sess)
		}
		return &Result{Action: ActionHandedOff, Handoff: out.Handoff}, nil

	default: // graph.Completed
		if err := r.checkpoints.Delete(ctx, sess.ID, r.name); err != nil {
			log.Warn().Err(err).Str("workflow", r.name).Msg("checkpoint delete failed")
		}
		text, md := r.hooks.completed(s, sess)
		sess.CompleteWorkflow()
		return &Result{Action: ActionCompleted, Response: text, Metadata: md}, nil
	}
}

// rebind converts a hand-off bag value through JSON so that bags which
// round-tripped through the session store decode identically to bags handed
// over in-process within the same turn.
func rebind[T any](v any, out *T) {
	if v == nil {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = sonic.Unmarshal(data, out)
}
