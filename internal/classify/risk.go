package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"arogya/internal/oracle"
	"arogya/internal/state"
)

const riskPrompt = `You are a medical triage AI assistant. Assess the risk level of this patient message.

Risk Levels:
- low: Minor concerns, can wait, self-care possible
- medium: Should see doctor soon, not urgent
- high: Serious concern, needs doctor promptly
- emergency: Life-threatening, immediate medical attention required

Patient Message: %s

Respond with ONLY a JSON object:
{
  "risk_level": "low|medium|high|emergency",
  "reasoning": "brief explanation",
  "urgency_score": 0.0 to 1.0
}`

// RiskResult is the outcome of one risk assessment pass.
type RiskResult struct {
	Level            state.RiskLevel `json:"risk_level"`
	Reasoning        string          `json:"reasoning"`
	UrgencyScore     float64         `json:"urgency_score"`
	DetectedKeywords []string        `json:"emergency_keywords,omitempty"`
	Method           string          `json:"method"`
}

// RiskClassifier assesses medical risk. A deterministic keyword scan runs
// first and always wins over the model's output when it fires.
type RiskClassifier struct {
	oracle   oracle.Oracle
	keywords []string
}

func NewRiskClassifier(o oracle.Oracle, emergencyKeywords []string) *RiskClassifier {
	lowered := make([]string, len(emergencyKeywords))
	for i, k := range emergencyKeywords {
		lowered[i] = strings.ToLower(k)
	}
	return &RiskClassifier{oracle: o, keywords: lowered}
}

// DetectKeywords returns the emergency keywords present in the message.
func (c *RiskClassifier) DetectKeywords(message string) []string {
	lower := strings.ToLower(message)
	var detected []string
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			detected = append(detected, k)
		}
	}
	return detected
}

// Classify never fails: keyword hits force emergency; otherwise the oracle
// assessment is validated against the known level set, and any failure
// degrades to medium risk for safety.
func (c *RiskClassifier) Classify(ctx context.Context, message string) RiskResult {
	if detected := c.DetectKeywords(message); len(detected) > 0 {
		log.Warn().Strs("keywords", detected).Msg("emergency keywords detected")
		return RiskResult{
			Level:            state.RiskEmergency,
			Reasoning:        fmt.Sprintf("Emergency keywords detected: %s", strings.Join(detected, ", ")),
			UrgencyScore:     1.0,
			DetectedKeywords: detected,
			Method:           MethodKeyword,
		}
	}

	var parsed struct {
		RiskLevel    string  `json:"risk_level"`
		Reasoning    string  `json:"reasoning"`
		UrgencyScore float64 `json:"urgency_score"`
	}
	if err := c.oracle.CompleteStructured(ctx, fmt.Sprintf(riskPrompt, message), &parsed); err != nil {
		log.Warn().Err(err).Msg("risk classification failed, defaulting to medium")
		return RiskResult{
			Level:        state.RiskMedium,
			Reasoning:    "Unable to assess risk, defaulting to medium for safety",
			UrgencyScore: 0.5,
			Method:       MethodFallback,
		}
	}

	level, ok := state.ParseRiskLevel(strings.ToLower(strings.TrimSpace(parsed.RiskLevel)))
	if !ok {
		log.Warn().Str("risk_level", parsed.RiskLevel).Msg("invalid risk level, defaulting to medium")
		level = state.RiskMedium
	}
	urgency := parsed.UrgencyScore
	if urgency <= 0 {
		urgency = 0.5
	}

	log.Info().Str("risk", string(level)).Float64("urgency", urgency).Msg("risk classified")
	return RiskResult{
		Level:        level,
		Reasoning:    parsed.Reasoning,
		UrgencyScore: urgency,
		Method:       MethodLLM,
	}
}
