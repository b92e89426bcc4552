package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"arogya/internal/config"
	"arogya/internal/graph"
	"arogya/internal/oracle"
	"arogya/internal/state"
	"arogya/internal/storage"
)

// Symptom is one structured symptom extracted from the conversation.
type Symptom struct {
	Name       string   `json:"name"`
	Duration   string   `json:"duration,omitempty"`
	Severity   string   `json:"severity,omitempty"` // mild, moderate, severe
	Location   string   `json:"location,omitempty"`
	Associated []string `json:"associated_symptoms,omitempty"`
}

// symptomsState is the node-local state of the symptom triage workflow.
type symptomsState struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`

	RawSymptoms string    `json:"raw_symptoms"`
	Symptoms    []Symptom `json:"structured_symptoms"`

	QuestionsAsked   []string          `json:"questions_asked"`
	AnswersCollected map[string]string `json:"answers_collected"`
	NeedsMoreInfo    bool              `json:"needs_more_info"`
	MissingInfo      []string          `json:"missing_info"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	FinalResponse string `json:"final_response"`
	NextAction    string `json:"next_action"`
}

const symptomTriagePrompt = `You are a medical symptom analyzer. Extract structured information from the patient's description.

Previous follow-up answers:
%s

Current message:
%s

Respond with ONLY a JSON object:
{
  "symptoms": [{"name": "...", "duration": "...", "severity": "mild|moderate|severe", "location": "...", "associated_symptoms": []}],
  "needs_more_info": true or false,
  "missing_info": ["duration", "severity", "location"]
}`

const symptomResponsePrompt = `You are a caring medical assistant. Based on the symptoms below, give the patient a short, plain-language summary with sensible self-care guidance and clear advice on when to see a doctor. Do not diagnose.

Symptoms:
%s

Follow-up information:
%s`

const symptomQuestionPrompt = `You are a medical assistant gathering symptom details. Ask ONE short, specific follow-up question.

Known symptoms: %s
Missing details: %s
Already asked (do not repeat): %s

Respond with only the question text.`

// SymptomsWorkflow triages reported symptoms, asking bounded follow-up
// questions, and offers a doctor hand-off when symptoms are severe.
type SymptomsWorkflow struct {
	runner[symptomsState]
	oracle       oracle.Oracle
	maxFollowups int
}

func NewSymptoms(o oracle.Oracle, cfg config.WorkflowConfig, checkpoints storage.CheckpointStore) (*SymptomsWorkflow, error) {
	w := &SymptomsWorkflow{oracle: o, maxFollowups: cfg.MaxFollowups}
	if w.maxFollowups <= 0 {
		w.maxFollowups = 3
	}

	g, err := graph.NewBuilder[symptomsState](Symptoms).
		AddNode("triage", w.triage).
		AddNode("followup", w.followup).
		AddNode("respond", w.respond).
		AddNode("doctor_offer", w.doctorOffer).
		SetStart("triage").
		AddBranch("triage", func(s *symptomsState) string {
			if s.NeedsMoreInfo && s.IterationCount < s.MaxIterations {
				return "followup"
			}
			return "respond"
		}, "followup", "respond").
		AddGoto("followup", "triage", "respond").
		AddBranch("respond", func(s *symptomsState) string {
			if hasSevere(s.Symptoms) {
				return "doctor_offer"
			}
			return graph.End
		}, "doctor_offer").
		AddGoto("doctor_offer", graph.End).
		Compile()
	if err != nil {
		return nil, err
	}

	w.runner = runner[symptomsState]{
		name:        Symptoms,
		graph:       g,
		checkpoints: checkpoints,
		hooks: hooks[symptomsState]{
			initial: func(message string, sess *state.Session) *symptomsState {
				return &symptomsState{
					UserMessage:      message,
					SessionID:        sess.ID,
					AnswersCollected: map[string]string{},
					MaxIterations:    w.maxFollowups,
					NextAction:       "complete",
				}
			},
			completed: w.interpretCompleted,
			paused: func(p *graph.Suspend) map[string]any {
				return p.Hints
			},
			handedOff: w.projectSymptoms,
		},
	}
	return w, nil
}

func (w *SymptomsWorkflow) triage(ctx context.Context, s *symptomsState, in graph.Input) (graph.NodeResult, error) {
	var parsed struct {
		Symptoms      []Symptom `json:"symptoms"`
		NeedsMoreInfo bool      `json:"needs_more_info"`
		MissingInfo   []string  `json:"missing_info"`
	}
	prompt := fmt.Sprintf(symptomTriagePrompt, answersText(s.AnswersCollected), s.UserMessage)
	if err := w.oracle.CompleteStructured(ctx, prompt, &parsed); err != nil {
		// Proceed with the raw report rather than failing the turn.
		log.Warn().Err(err).Msg("symptom extraction failed, using raw message")
		parsed.Symptoms = []Symptom{{Name: strings.TrimSpace(s.UserMessage)}}
		parsed.NeedsMoreInfo = false
	}

	s.RawSymptoms = s.UserMessage
	s.Symptoms = parsed.Symptoms
	s.MissingInfo = parsed.MissingInfo
	s.NeedsMoreInfo = parsed.NeedsMoreInfo || len(parsed.MissingInfo) > 0

	log.Info().Int("symptoms", len(s.Symptoms)).Bool("needs_more_info", s.NeedsMoreInfo).Msg("symptoms extracted")
	return graph.NodeResult{}, nil
}

func (w *SymptomsWorkflow) followup(ctx context.Context, s *symptomsState, in graph.Input) (graph.NodeResult, error) {
	if in.Resumed && in.Pending != nil {
		question := in.Pending.Question
		if s.AnswersCollected == nil {
			s.AnswersCollected = map[string]string{}
		}
		s.AnswersCollected[question] = in.Resume
		s.QuestionsAsked = append(s.QuestionsAsked, question)
		s.UserMessage = in.Resume
		s.IterationCount++
		return graph.NodeResult{Next: "triage"}, nil
	}

	if s.IterationCount >= s.MaxIterations || !s.NeedsMoreInfo {
		return graph.NodeResult{Next: "respond"}, nil
	}

	question := w.followupQuestion(ctx, s)
	return graph.NodeResult{Suspend: &graph.Suspend{
		Type:     "follow_up_question",
		Question: question,
		Hints: map[string]any{
			"missing_info": s.MissingInfo,
			"iteration":    s.IterationCount,
		},
	}}, nil
}

func (w *SymptomsWorkflow) followupQuestion(ctx context.Context, s *symptomsState) string {
	prompt := fmt.Sprintf(symptomQuestionPrompt,
		symptomSummary(s.Symptoms, s.RawSymptoms),
		strings.Join(s.MissingInfo, ", "),
		strings.Join(s.QuestionsAsked, "; "))
	question, err := w.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(question) == "" {
		log.Warn().Err(err).Msg("follow-up question generation failed, using fallback")
		if len(s.MissingInfo) > 0 {
			return fmt.Sprintf("Can you tell me more about the %s of your symptoms?", s.MissingInfo[0])
		}
		return "Can you tell me anything more about how you're feeling?"
	}
	return strings.Trim(strings.TrimSpace(question), `"`)
}

func (w *SymptomsWorkflow) respond(ctx context.Context, s *symptomsState, in graph.Input) (graph.NodeResult, error) {
	prompt := fmt.Sprintf(symptomResponsePrompt,
		symptomSummary(s.Symptoms, s.RawSymptoms),
		answersText(s.AnswersCollected))

	text, err := w.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Msg("symptom response generation failed, using fallback")
		text = "I apologize, but I'm having trouble generating a full assessment right now. Based on what you've shared, please consult a healthcare provider about your symptoms."
	}

	s.FinalResponse = strings.TrimSpace(text)
	s.NextAction = "complete"
	return graph.NodeResult{}, nil
}

func (w *SymptomsWorkflow) doctorOffer(ctx context.Context, s *symptomsState, in graph.Input) (graph.NodeResult, error) {
	if in.Resumed {
		if isAffirmative(in.Resume) {
			s.NextAction = "handoff_doctor"
			return graph.NodeResult{Handoff: &graph.Handoff{
				Target: Doctors,
				Bag: map[string]any{
					"source":              Symptoms,
					"symptoms_summary":    symptomSummary(s.Symptoms, s.RawSymptoms),
					"structured_symptoms": s.Symptoms,
					"urgency_level":       urgencyOf(s.Symptoms),
				},
			}}, nil
		}
		s.FinalResponse += "\n\nAlright. If you change your mind, just ask me to find a doctor."
		return graph.NodeResult{Next: graph.End}, nil
	}

	return graph.NodeResult{Suspend: &graph.Suspend{
		Type:     "doctor_offer",
		Question: "Some of what you describe sounds serious. Would you like me to find a suitable doctor for you?",
		Hints: map[string]any{
			"symptoms_summary": symptomSummary(s.Symptoms, s.RawSymptoms),
		},
	}}, nil
}

func (w *SymptomsWorkflow) interpretCompleted(s *symptomsState, sess *state.Session) (string, map[string]any) {
	w.projectSymptoms(s, sess)
	text := s.FinalResponse
	if text == "" {
		text = "Thank you for sharing your symptoms."
	}
	return text, map[string]any{
		"next_action":         s.NextAction,
		"structured_symptoms": s.Symptoms,
		"iterations":          s.IterationCount,
	}
}

// projectSymptoms records extracted symptom names on the session whether the
// workflow completes or hands the user off to doctor matching.
func (w *SymptomsWorkflow) projectSymptoms(s *symptomsState, sess *state.Session) {
	for _, sym := range s.Symptoms {
		if sym.Name != "" {
			sess.ReportedSymptoms = append(sess.ReportedSymptoms, sym.Name)
		}
	}
}

func hasSevere(symptoms []Symptom) bool {
	for _, s := range symptoms {
		sev := strings.ToLower(s.Severity)
		if sev == "severe" || sev == "critical" {
			return true
		}
	}
	return false
}

func urgencyOf(symptoms []Symptom) string {
	urgency := "low"
	for _, s := range symptoms {
		switch strings.ToLower(s.Severity) {
		case "severe", "critical":
			return "high"
		case "moderate":
			urgency = "medium"
		}
	}
	return urgency
}

func symptomSummary(symptoms []Symptom, raw string) string {
	if len(symptoms) == 0 {
		return raw
	}
	parts := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		p := s.Name
		if s.Severity != "" {
			p += fmt.Sprintf(" (%s)", s.Severity)
		}
		if s.Duration != "" {
			p += fmt.Sprintf(" for %s", s.Duration)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

func answersText(answers map[string]string) string {
	if len(answers) == 0 {
		return "(None)"
	}
	var b strings.Builder
	for q, a := range answers {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, a)
	}
	return strings.TrimRight(b.String(), "\n")
}

func isAffirmative(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	for _, yes := range []string{"yes", "yeah", "yep", "sure", "ok", "okay", "please", "y", "haan", "definitely"} {
		if a == yes || strings.HasPrefix(a, yes+" ") || strings.HasPrefix(a, yes+",") {
			return true
		}
	}
	return strings.Contains(a, "yes please") || strings.Contains(a, "go ahead")
}
