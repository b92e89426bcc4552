package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"arogya/internal/classify"
	"arogya/internal/graph"
	"arogya/internal/oracle"
	"arogya/internal/state"
	"arogya/internal/storage"
)

// emergencyState is the node-local state of the emergency response
// workflow. The workflow never suspends: every turn must produce
// actionable guidance immediately.
type emergencyState struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`

	IncidentSummary  string   `json:"incident_summary"`
	EmergencyType    string   `json:"emergency_type"`
	RiskLevel        string   `json:"risk_level"`
	DetectedKeywords []string `json:"detected_keywords"`
	UrgencyScore     float64  `json:"urgency_score"`

	NeedsAmbulance   bool   `json:"needs_ambulance"`
	FirstAid         string `json:"first_aid"`
	EscalationAdvice string `json:"escalation_advice"`

	FinalResponse string   `json:"final_response"`
	SafetyFlags   []string `json:"safety_flags"`
	NextAction    string   `json:"next_action"`
}

const emergencyFirstAidPrompt = `You are an emergency first-aid advisor. Give short, numbered first-aid steps the person can take RIGHT NOW while help is on the way. Be direct and calm. Do not include disclaimers.

Emergency type: %s
Situation: %s`

const escalationAdvice = "Call emergency services now: dial 112 (national emergency) or 108 (ambulance). Do not wait for symptoms to improve on their own."

// firstAidByType are deterministic fallbacks used when guidance cannot be
// generated. Keyed by inferred emergency type.
var firstAidByType = map[string]string{
	"cardiac":           "1. Call 112 or 108 immediately.\n2. Have the person sit down, rest, and stay calm.\n3. Loosen tight clothing.\n4. If the person is unresponsive and not breathing normally, start chest compressions.",
	"respiratory":       "1. Call 112 or 108 immediately.\n2. Help the person sit upright and lean slightly forward.\n3. Loosen tight clothing around the chest and neck.\n4. If they have a prescribed inhaler, help them use it.",
	"bleeding":          "1. Call 112 or 108 immediately.\n2. Apply firm, direct pressure on the wound with a clean cloth.\n3. Keep the injured area raised above the heart if possible.\n4. Do not remove objects embedded in the wound.",
	"neurological":      "1. Call 112 or 108 immediately.\n2. Note the time symptoms started.\n3. Lay the person on their side if unconscious.\n4. Do not give food or water.",
	"allergic":          "1. Call 112 or 108 immediately.\n2. Use an epinephrine auto-injector if one is available.\n3. Help the person lie down with legs raised unless breathing is difficult.\n4. Loosen tight clothing.",
	"burn":              "1. Cool the burn under cool running water for 20 minutes.\n2. Remove jewelry and tight items near the burn before swelling starts.\n3. Cover loosely with a clean, non-stick dressing.\n4. Call 108 for large or deep burns.",
	"overdose":          "1. Call 112 or 108 immediately.\n2. Do not make the person vomit.\n3. Keep any packaging or substance containers to show responders.\n4. Lay the person on their side if drowsy or unconscious.",
	"suicidal_ideation": "You are not alone, and help is available right now. Please call 112, or reach a suicide prevention helpline such as iCall at 9152987821. If you can, stay with someone you trust until help arrives.",
	"extreme_pain":      "1. Call 112 or 108 immediately.\n2. Help the person into the most comfortable position.\n3. Do not give food, water, or painkillers until assessed.\n4. Note when the pain started and how it has changed.",
	"unknown":           "1. Call 112 or 108 immediately.\n2. Stay with the person and keep them calm.\n3. Do not give food or water.\n4. Be ready to describe the symptoms to responders.",
}

// EmergencyWorkflow handles potentially life-threatening situations. It
// classifies the incident, produces first-aid guidance, and always directs
// the user to emergency services.
type EmergencyWorkflow struct {
	runner[emergencyState]
	oracle oracle.Oracle
	risks  *classify.RiskClassifier
}

func NewEmergency(o oracle.Oracle, risks *classify.RiskClassifier, checkpoints storage.CheckpointStore) (*EmergencyWorkflow, error) {
	w := &EmergencyWorkflow{oracle: o, risks: risks}

	g, err := graph.NewBuilder[emergencyState](Emergency).
		AddNode("classify", w.classify).
		AddNode("first_aid", w.firstAid).
		AddNode("finalize", w.finalize).
		SetStart("classify").
		AddEdge("classify", "first_aid").
		AddEdge("first_aid", "finalize").
		Compile()
	if err != nil {
		return nil, err
	}

	w.runner = runner[emergencyState]{
		name:        Emergency,
		graph:       g,
		checkpoints: checkpoints,
		hooks: hooks[emergencyState]{
			initial: func(message string, sess *state.Session) *emergencyState {
				return &emergencyState{
					UserMessage: message,
					SessionID:   sess.ID,
					NextAction:  "escalate",
				}
			},
			completed: func(s *emergencyState, sess *state.Session) (string, map[string]any) {
				for _, f := range s.SafetyFlags {
					sess.AddSafetyFlag(f)
				}
				sess.RequiresHumanReview = true
				return s.FinalResponse, map[string]any{
					"next_action":       s.NextAction,
					"emergency_type":    s.EmergencyType,
					"risk_level":        s.RiskLevel,
					"needs_ambulance":   s.NeedsAmbulance,
					"detected_keywords": s.DetectedKeywords,
				}
			},
		},
	}
	return w, nil
}

func (w *EmergencyWorkflow) classify(ctx context.Context, s *emergencyState, in graph.Input) (graph.NodeResult, error) {
	res := w.risks.Classify(ctx, s.UserMessage)

	s.RiskLevel = string(res.Level)
	s.UrgencyScore = res.UrgencyScore
	s.DetectedKeywords = res.DetectedKeywords
	s.EmergencyType = inferEmergencyType(s.UserMessage)
	s.IncidentSummary = truncate(s.UserMessage, 160)
	s.NeedsAmbulance = res.Level.Severity() >= state.RiskEmergency.Severity() ||
		s.EmergencyType == "cardiac" || s.EmergencyType == "respiratory" || s.EmergencyType == "bleeding"

	s.SafetyFlags = append(s.SafetyFlags, "emergency_workflow_engaged")
	if s.EmergencyType == "suicidal_ideation" {
		s.SafetyFlags = append(s.SafetyFlags, "self_harm_risk")
	}

	log.Warn().
		Str("emergency_type", s.EmergencyType).
		Str("risk_level", s.RiskLevel).
		Strs("keywords", s.DetectedKeywords).
		Msg("emergency classified")
	return graph.NodeResult{}, nil
}

func (w *EmergencyWorkflow) firstAid(ctx context.Context, s *emergencyState, in graph.Input) (graph.NodeResult, error) {
	prompt := fmt.Sprintf(emergencyFirstAidPrompt, s.EmergencyType, s.IncidentSummary)
	text, err := w.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Str("emergency_type", s.EmergencyType).Msg("first-aid generation failed, using template")
		fallback, ok := firstAidByType[s.EmergencyType]
		if !ok {
			fallback = firstAidByType["unknown"]
		}
		text = fallback
	}

	s.FirstAid = strings.TrimSpace(text)
	s.EscalationAdvice = escalationAdvice
	return graph.NodeResult{}, nil
}

func (w *EmergencyWorkflow) finalize(ctx context.Context, s *emergencyState, in graph.Input) (graph.NodeResult, error) {
	var b strings.Builder
	b.WriteString("This sounds like a medical emergency.\n\n")
	b.WriteString(s.EscalationAdvice)
	b.WriteString("\n\nWhile help is on the way:\n")
	b.WriteString(s.FirstAid)

	response := b.String()
	// Every emergency response must carry the emergency numbers.
	if !strings.Contains(response, "112") && !strings.Contains(response, "108") {
		response += "\n\n" + escalationAdvice
		s.SafetyFlags = append(s.SafetyFlags, "escalation_advice_appended")
	}

	s.FinalResponse = response
	s.NextAction = "escalate"
	return graph.NodeResult{}, nil
}

// inferEmergencyType maps the message onto a coarse incident category used
// to pick first-aid templates.
func inferEmergencyType(message string) string {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, "chest pain", "heart attack", "heart is racing", "cardiac"):
		return "cardiac"
	case containsAny(m, "can't breathe", "cannot breathe", "not breathing", "difficulty breathing", "choking"):
		return "respiratory"
	case containsAny(m, "bleeding", "blood loss", "severe cut", "wound"):
		return "bleeding"
	case containsAny(m, "stroke", "seizure", "unconscious", "paralysis", "face drooping"):
		return "neurological"
	case containsAny(m, "allergic", "anaphylaxis", "swelling throat"):
		return "allergic"
	case containsAny(m, "burn", "scald"):
		return "burn"
	case containsAny(m, "overdose", "poisoning", "poison"):
		return "overdose"
	case containsAny(m, "suicide", "suicidal", "kill myself", "end my life", "want to die"):
		return "suicidal_ideation"
	case containsAny(m, "severe pain", "extreme pain", "unbearable pain", "worst pain"):
		return "extreme_pain"
	default:
		return "unknown"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// truncate cuts on rune boundaries so multibyte text stays valid UTF-8.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
