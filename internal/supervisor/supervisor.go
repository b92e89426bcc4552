// Package supervisor routes each user turn: it resumes a paused workflow
// when one is awaiting input, otherwise classifies the message and starts
// the workflow the routing table selects. Hand-offs between workflows are
// trampolined here.
package supervisor

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"arogya/internal/classify"
	"arogya/internal/config"
	"arogya/internal/state"
	"arogya/internal/storage"
	"arogya/internal/workflow"
)

const maxHandoffs = 4

const recoveryResponse = "I'm sorry, something went wrong on my side. Let's start fresh: how can I help you today?"

const failureResponse = "I'm sorry, I ran into a problem handling that. Could you try rephrasing, or tell me again what you need?"

// Response is the supervisor's answer for one turn.
type Response struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	Intent    string         `json:"intent"`
	RiskLevel string         `json:"risk_level"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Supervisor owns turn handling for all sessions.
type Supervisor struct {
	registry *workflow.Registry
	intents  *classify.IntentClassifier
	risks    *classify.RiskClassifier
	sessions storage.SessionStore

	routes            map[string]string
	defaultWorkflow   string
	emergencyWorkflow string
}

func New(reg *workflow.Registry, intents *classify.IntentClassifier, risks *classify.RiskClassifier, sessions storage.SessionStore, cfg config.SupervisorConfig) *Supervisor {
	return &Supervisor{
		registry:          reg,
		intents:           intents,
		risks:             risks,
		sessions:          sessions,
		routes:            cfg.Routes,
		defaultWorkflow:   cfg.DefaultWorkflow,
		emergencyWorkflow: cfg.EmergencyWorkflow,
	}
}

// Handle processes one user turn. It always returns a response the user can
// act on: classification, execution, and persistence failures degrade to
// apologetic or recovery responses rather than errors.
func (s *Supervisor) Handle(ctx context.Context, sessionID, message string) (*Response, error) {
	sess := s.loadSession(ctx, sessionID)
	sess.AddMessage(state.RoleUser, message)

	md := map[string]any{}
	var res *workflow.Result

	if sess.AwaitingInput && sess.ActiveWorkflow != "" {
		res = s.resume(ctx, sess, message, md)
	}
	if res == nil {
		res = s.dispatch(ctx, sess, message, md)
	}
	res = s.trampoline(ctx, sess, res, md)

	md["active_workflow"] = sess.ActiveWorkflow
	md["awaiting_input"] = sess.AwaitingInput
	for k, v := range res.Metadata {
		md[k] = v
	}

	sess.AddMessage(state.RoleAssistant, res.Response)
	if err := sess.CheckInvariant(); err != nil {
		log.Error().Err(err).Msg("session invariant violated after turn")
		sess.ResetExecution()
	}

	// Persistence failures must not lose the turn's answer.
	if err := s.sessions.Save(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("session save failed")
		md["persistence_degraded"] = true
	}

	return &Response{
		Response:  res.Response,
		SessionID: sess.ID,
		Intent:    sess.CurrentIntent,
		RiskLevel: string(sess.RiskLevel),
		Metadata:  md,
	}, nil
}

func (s *Supervisor) loadSession(ctx context.Context, sessionID string) *state.Session {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("session load failed, starting fresh")
	}
	if sess == nil {
		sess = state.NewSession(sessionID)
	}
	return sess
}

// resume feeds the message to the paused workflow as the answer to its
// pending question. Intent and risk are NOT reclassified on resume: the
// answer to "how long has the pain lasted?" is not a routable utterance.
// Returns nil when the turn must fall through to fresh dispatch.
func (s *Supervisor) resume(ctx context.Context, sess *state.Session, message string, md map[string]any) *workflow.Result {
	exec, ok := s.registry.Get(sess.ActiveWorkflow)
	if !ok {
		log.Error().Str("workflow", sess.ActiveWorkflow).Msg("session references unknown workflow")
		sess.ResetExecution()
		return &workflow.Result{Action: workflow.ActionCompleted, Response: recoveryResponse}
	}

	sess.ClearAwaiting()
	md["resumed"] = true

	res, err := exec.Resume(ctx, message, sess)
	if errors.Is(err, workflow.ErrNoCheckpoint) {
		// The pause outlived its checkpoint. Treat the message as a new
		// request instead of dropping it.
		log.Warn().Str("workflow", exec.Name()).Str("session", sess.ID).Msg("resume without checkpoint, redispatching")
		sess.ResetExecution()
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("workflow", exec.Name()).Msg("workflow resume failed")
		sess.ResetExecution()
		return &workflow.Result{Action: workflow.ActionCompleted, Response: failureResponse}
	}
	return res
}

// dispatch classifies the message and starts the routed workflow.
func (s *Supervisor) dispatch(ctx context.Context, sess *state.Session, message string, md map[string]any) *workflow.Result {
	intent := s.intents.Classify(ctx, message, sess.Recent(6))
	risk := s.risks.Classify(ctx, message)

	sess.CurrentIntent = intent.Intent
	sess.IntentConfidence = intent.Confidence
	sess.RiskLevel = risk.Level
	md["intent_method"] = intent.Method
	md["intent_confidence"] = intent.Confidence
	md["intent_reasoning"] = intent.Reasoning
	md["risk_method"] = risk.Method
	md["risk_reasoning"] = risk.Reasoning
	md["urgency_score"] = risk.UrgencyScore

	if len(risk.DetectedKeywords) > 0 {
		sess.EmergencyKeywords = risk.DetectedKeywords
		sess.AddSafetyFlag("emergency_keywords_detected")
		sess.RequiresHumanReview = true
	}

	// Emergency risk overrides the intent route unconditionally.
	target := s.routes[intent.Intent]
	if risk.Level == state.RiskEmergency {
		target = s.emergencyWorkflow
	}
	if target == "" {
		target = s.defaultWorkflow
	}

	exec, ok := s.registry.Get(target)
	if !ok {
		log.Error().Str("workflow", target).Msg("routing table names unknown workflow")
		sess.ResetExecution()
		return &workflow.Result{Action: workflow.ActionCompleted, Response: recoveryResponse}
	}

	log.Info().
		Str("session", sess.ID).
		Str("intent", intent.Intent).
		Str("risk", string(risk.Level)).
		Str("workflow", target).
		Msg("dispatching turn")

	sess.StartWorkflow(target)
	res, err := exec.Start(ctx, message, sess)
	if err != nil {
		log.Error().Err(err).Str("workflow", target).Msg("workflow start failed")
		sess.ResetExecution()
		return &workflow.Result{Action: workflow.ActionCompleted, Response: failureResponse}
	}
	return res
}

// trampoline chains hand-offs within the turn. A bounded loop with a
// visited set guards against routing cycles; on a cycle the chain fails
// closed into a completed turn rather than looping. The receiving workflow
// starts with an empty message: its context comes from the hand-off bag,
// not from the answer that triggered the transfer.
func (s *Supervisor) trampoline(ctx context.Context, sess *state.Session, res *workflow.Result, md map[string]any) *workflow.Result {
	visited := map[string]bool{sess.ActiveWorkflow: true}

	for hops := 0; res.Action == workflow.ActionHandedOff; hops++ {
		target := res.Handoff.Target
		if hops >= maxHandoffs || visited[target] {
			log.Error().Str("target", target).Int("hops", hops).Msg("handoff cycle detected, failing closed")
			sess.AddSafetyFlag("handoff_cycle_detected")
			sess.CompleteWorkflow()
			return &workflow.Result{Action: workflow.ActionCompleted, Response: failureResponse}
		}
		visited[target] = true

		exec, ok := s.registry.Get(target)
		if !ok {
			log.Error().Str("workflow", target).Msg("handoff to unknown workflow")
			sess.ResetExecution()
			return &workflow.Result{Action: workflow.ActionCompleted, Response: recoveryResponse}
		}

		log.Info().Str("from", sess.ActiveWorkflow).Str("to", target).Msg("handing off")
		md["handoff_from"] = sess.ActiveWorkflow

		sess.HandoffBag = res.Handoff.Bag
		sess.StartWorkflow(target)

		next, err := exec.Start(ctx, "", sess)
		sess.HandoffBag = nil
		if err != nil {
			log.Error().Err(err).Str("workflow", target).Msg("workflow start after handoff failed")
			sess.ResetExecution()
			return &workflow.Result{Action: workflow.ActionCompleted, Response: failureResponse}
		}
		res = next
	}
	return res
}
