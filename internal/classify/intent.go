// Package classify holds the supervisor's intent and risk classifiers.
// Both degrade to deterministic fallbacks instead of failing the turn.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"arogya/internal/oracle"
	"arogya/internal/state"
)

// Classification methods surfaced in response metadata so callers can
// distinguish confident routing from degraded routing.
const (
	MethodLLM      = "llm_classification"
	MethodKeyword  = "keyword_detection"
	MethodFallback = "fallback"
)

// Intents is the fixed enumerated intent set.
var Intents = []string{"symptom", "dosha", "doctor", "prescription", "progress", "emergency", "general"}

const fallbackIntent = "general"

const intentPrompt = `You are an AI assistant that classifies user intent for a medical telemedicine chatbot.

Available Intents:
- symptom: User reporting symptoms or health concerns
- dosha: User asking about Ayurvedic constitution/prakriti
- doctor: User wants to find or book a doctor
- prescription: User asking about medications or prescriptions
- progress: User tracking progress or follow-up
- emergency: Urgent medical emergency
- general: General questions or greetings

Conversation Context:
%s

Current User Message: %s

Respond with ONLY a JSON object:
{
  "intent": "symptom|dosha|doctor|prescription|progress|emergency|general",
  "confidence": 0.0 to 1.0,
  "reasoning": "brief explanation"
}`

// IntentResult is the outcome of one intent classification pass.
type IntentResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Method     string  `json:"method"`
}

// IntentClassifier classifies messages into the fixed intent set.
type IntentClassifier struct {
	oracle oracle.Oracle
}

func NewIntentClassifier(o oracle.Oracle) *IntentClassifier {
	return &IntentClassifier{oracle: o}
}

// Classify never fails: unrecognized or failed classification degrades to
// the fallback intent with method recorded as fallback.
func (c *IntentClassifier) Classify(ctx context.Context, message string, recent []state.Message) IntentResult {
	prompt := fmt.Sprintf(intentPrompt, contextString(recent), message)

	var parsed struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := c.oracle.CompleteStructured(ctx, prompt, &parsed); err != nil {
		log.Warn().Err(err).Msg("intent classification failed, using fallback")
		return IntentResult{
			Intent:     fallbackIntent,
			Confidence: 0.5,
			Reasoning:  "Unable to classify intent, defaulting to general",
			Method:     MethodFallback,
		}
	}

	intent := strings.ToLower(strings.TrimSpace(parsed.Intent))
	if !knownIntent(intent) {
		log.Warn().Str("intent", parsed.Intent).Msg("invalid intent, defaulting to general")
		intent = fallbackIntent
	}
	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.7
	}

	log.Info().Str("intent", intent).Float64("confidence", confidence).Msg("intent classified")
	return IntentResult{
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  parsed.Reasoning,
		Method:     MethodLLM,
	}
}

func knownIntent(intent string) bool {
	for _, i := range Intents {
		if i == intent {
			return true
		}
	}
	return false
}

func contextString(recent []state.Message) string {
	if len(recent) == 0 {
		return "(No previous context)"
	}
	var b strings.Builder
	for _, m := range recent {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
