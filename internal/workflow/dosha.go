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

// doshaState is the node-local state of the constitutional assessment
// workflow. Scores are percentages summing to roughly 100.
type doshaState struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`

	AnswersCollected    map[string]string `json:"answers_collected"`
	ConfidenceScore     float64           `json:"confidence_score"`
	ConfidenceThreshold float64           `json:"confidence_threshold"`
	QuestionsAsked      []string          `json:"questions_asked"`
	NeedsMoreInfo       bool              `json:"needs_more_info"`
	MissingAreas        []string          `json:"missing_areas"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	VataScore     float64 `json:"vata_score"`
	PittaScore    float64 `json:"pitta_score"`
	KaphaScore    float64 `json:"kapha_score"`
	DominantDosha string  `json:"dominant_dosha"`
	Explanation   string  `json:"explanation"`

	FinalResponse string `json:"final_response"`
	NextAction    string `json:"next_action"`
}

const doshaQuestionnairePrompt = `You are an Ayurvedic practitioner assessing a person's constitution (prakriti). Review what they have shared so far and decide whether you have enough to assess their dosha balance.

Assessment areas: body frame, skin and hair, appetite and digestion, sleep, energy levels, temperament, reaction to weather.

Answers so far:
%s

Latest message:
%s

Respond with ONLY a JSON object:
{
  "answers": {"area": "what they said"},
  "confidence_score": 0.0 to 1.0,
  "needs_more_info": true or false,
  "missing_areas": ["sleep", "digestion"]
}`

const doshaInferencePrompt = `You are an Ayurvedic practitioner. Based on the answers below, estimate the person's dosha balance as percentages summing to 100, name the dominant dosha (Vata, Pitta, Kapha, or a dual type like Vata-Pitta), and explain briefly.

Answers:
%s

Respond with ONLY a JSON object:
{
  "vata_score": 0,
  "pitta_score": 0,
  "kapha_score": 0,
  "dominant_dosha": "...",
  "explanation": "..."
}`

const doshaQuestionPrompt = `You are an Ayurvedic practitioner gathering constitutional details. Ask ONE short, friendly question about the missing area.

Missing areas: %s
Already asked (do not repeat): %s

Respond with only the question text.`

const doshaResponsePrompt = `You are an Ayurvedic practitioner delivering a constitutional assessment. Write a warm, plain-language summary of the result below, with two or three lifestyle suggestions suited to the dominant dosha.

Dominant dosha: %s
Vata %.0f%%, Pitta %.0f%%, Kapha %.0f%%
Assessment notes: %s`

// DoshaWorkflow runs the constitutional assessment questionnaire. Follow-up
// questions stop once either the confidence threshold is met or the
// iteration cap is reached, whichever comes first.
type DoshaWorkflow struct {
	runner[doshaState]
	oracle       oracle.Oracle
	maxFollowups int
	threshold    float64
}

func NewDosha(o oracle.Oracle, cfg config.WorkflowConfig, checkpoints storage.CheckpointStore) (*DoshaWorkflow, error) {
	w := &DoshaWorkflow{oracle: o, maxFollowups: cfg.MaxFollowups, threshold: cfg.ConfidenceThreshold}
	if w.maxFollowups <= 0 {
		w.maxFollowups = 5
	}
	if w.threshold <= 0 {
		w.threshold = 0.7
	}

	g, err := graph.NewBuilder[doshaState](Dosha).
		AddNode("questionnaire", w.questionnaire).
		AddNode("followup", w.followup).
		AddNode("inference", w.inference).
		AddNode("respond", w.respond).
		SetStart("questionnaire").
		AddBranch("questionnaire", func(s *doshaState) string {
			if s.NeedsMoreInfo && s.IterationCount < s.MaxIterations && s.ConfidenceScore < s.ConfidenceThreshold {
				return "followup"
			}
			return "inference"
		}, "followup", "inference").
		AddGoto("followup", "questionnaire", "inference").
		AddEdge("inference", "respond").
		Compile()
	if err != nil {
		return nil, err
	}

	w.runner = runner[doshaState]{
		name:        Dosha,
		graph:       g,
		checkpoints: checkpoints,
		hooks: hooks[doshaState]{
			initial: func(message string, sess *state.Session) *doshaState {
				return &doshaState{
					UserMessage:         message,
					SessionID:           sess.ID,
					AnswersCollected:    map[string]string{},
					MaxIterations:       w.maxFollowups,
					ConfidenceThreshold: w.threshold,
					NextAction:          "complete",
				}
			},
			completed: func(s *doshaState, sess *state.Session) (string, map[string]any) {
				text := s.FinalResponse
				if text == "" {
					text = "Thank you. I wasn't able to complete a full assessment this time."
				}
				return text, map[string]any{
					"next_action":    s.NextAction,
					"dominant_dosha": s.DominantDosha,
					"scores": map[string]float64{
						"vata":  s.VataScore,
						"pitta": s.PittaScore,
						"kapha": s.KaphaScore,
					},
					"iterations": s.IterationCount,
				}
			},
			paused: func(p *graph.Suspend) map[string]any {
				return p.Hints
			},
		},
	}
	return w, nil
}

func (w *DoshaWorkflow) questionnaire(ctx context.Context, s *doshaState, in graph.Input) (graph.NodeResult, error) {
	var parsed struct {
		Answers       map[string]string `json:"answers"`
		Confidence    float64           `json:"confidence_score"`
		NeedsMoreInfo bool              `json:"needs_more_info"`
		MissingAreas  []string          `json:"missing_areas"`
	}
	prompt := fmt.Sprintf(doshaQuestionnairePrompt, answersText(s.AnswersCollected), s.UserMessage)
	if err := w.oracle.CompleteStructured(ctx, prompt, &parsed); err != nil {
		// Keep gathering rather than guessing a constitution.
		log.Warn().Err(err).Msg("dosha questionnaire evaluation failed")
		s.NeedsMoreInfo = true
		return graph.NodeResult{}, nil
	}

	for area, answer := range parsed.Answers {
		if s.AnswersCollected == nil {
			s.AnswersCollected = map[string]string{}
		}
		s.AnswersCollected[area] = answer
	}
	s.ConfidenceScore = parsed.Confidence
	s.NeedsMoreInfo = parsed.NeedsMoreInfo
	s.MissingAreas = parsed.MissingAreas

	log.Info().Float64("confidence", s.ConfidenceScore).Bool("needs_more_info", s.NeedsMoreInfo).Msg("dosha answers evaluated")
	return graph.NodeResult{}, nil
}

func (w *DoshaWorkflow) followup(ctx context.Context, s *doshaState, in graph.Input) (graph.NodeResult, error) {
	if in.Resumed && in.Pending != nil {
		question := in.Pending.Question
		if s.AnswersCollected == nil {
			s.AnswersCollected = map[string]string{}
		}
		s.AnswersCollected[question] = in.Resume
		s.QuestionsAsked = append(s.QuestionsAsked, question)
		s.UserMessage = in.Resume
		s.IterationCount++
		return graph.NodeResult{Next: "questionnaire"}, nil
	}

	if s.IterationCount >= s.MaxIterations || s.ConfidenceScore >= s.ConfidenceThreshold || !s.NeedsMoreInfo {
		return graph.NodeResult{Next: "inference"}, nil
	}

	question := w.followupQuestion(ctx, s)
	return graph.NodeResult{Suspend: &graph.Suspend{
		Type:     "dosha_question",
		Question: question,
		Hints: map[string]any{
			"missing_areas": s.MissingAreas,
			"confidence":    s.ConfidenceScore,
			"iteration":     s.IterationCount,
		},
	}}, nil
}

func (w *DoshaWorkflow) followupQuestion(ctx context.Context, s *doshaState) string {
	prompt := fmt.Sprintf(doshaQuestionPrompt,
		strings.Join(s.MissingAreas, ", "),
		strings.Join(s.QuestionsAsked, "; "))
	question, err := w.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(question) == "" {
		log.Warn().Err(err).Msg("dosha question generation failed, using fallback")
		if len(s.MissingAreas) > 0 {
			return fmt.Sprintf("Can you tell me more about your %s?", s.MissingAreas[0])
		}
		return "Can you describe your typical energy levels through the day?"
	}
	return strings.Trim(strings.TrimSpace(question), `"`)
}

func (w *DoshaWorkflow) inference(ctx context.Context, s *doshaState, in graph.Input) (graph.NodeResult, error) {
	var parsed struct {
		Vata        float64 `json:"vata_score"`
		Pitta       float64 `json:"pitta_score"`
		Kapha       float64 `json:"kapha_score"`
		Dominant    string  `json:"dominant_dosha"`
		Explanation string  `json:"explanation"`
	}
	prompt := fmt.Sprintf(doshaInferencePrompt, answersText(s.AnswersCollected))
	if err := w.oracle.CompleteStructured(ctx, prompt, &parsed); err != nil || parsed.Dominant == "" {
		log.Warn().Err(err).Msg("dosha inference failed, using balanced fallback")
		parsed.Vata, parsed.Pitta, parsed.Kapha = 33.3, 33.3, 33.4
		parsed.Dominant = "Vata-Pitta-Kapha"
		parsed.Explanation = "I couldn't determine a clear dominant dosha from what you shared, so I'm treating your constitution as balanced for now."
	}

	s.VataScore = parsed.Vata
	s.PittaScore = parsed.Pitta
	s.KaphaScore = parsed.Kapha
	s.DominantDosha = parsed.Dominant
	s.Explanation = parsed.Explanation
	return graph.NodeResult{}, nil
}

func (w *DoshaWorkflow) respond(ctx context.Context, s *doshaState, in graph.Input) (graph.NodeResult, error) {
	prompt := fmt.Sprintf(doshaResponsePrompt,
		s.DominantDosha, s.VataScore, s.PittaScore, s.KaphaScore, s.Explanation)

	text, err := w.oracle.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		log.Warn().Err(err).Msg("dosha response generation failed, using fallback")
		text = fmt.Sprintf("Your constitutional assessment: dominant dosha %s (Vata %.0f%%, Pitta %.0f%%, Kapha %.0f%%). %s",
			s.DominantDosha, s.VataScore, s.PittaScore, s.KaphaScore, s.Explanation)
	}

	s.FinalResponse = strings.TrimSpace(text)
	s.NextAction = "complete"
	return graph.NodeResult{}, nil
}
