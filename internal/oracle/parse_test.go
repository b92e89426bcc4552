package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type riskPayload struct {
	RiskLevel string  `json:"risk_level"`
	Reasoning string  `json:"reasoning"`
	Urgency   float64 `json:"urgency_score"`
}

func TestUnmarshalLoosePlainJSON(t *testing.T) {
	var p riskPayload
	err := UnmarshalLoose(`{"risk_level":"high","reasoning":"serious","urgency_score":0.8}`, &p)
	require.NoError(t, err)
	assert.Equal(t, "high", p.RiskLevel)
	assert.Equal(t, 0.8, p.Urgency)
}

func TestUnmarshalLooseFencedJSON(t *testing.T) {
	text := "Here is my assessment:\n```json\n{\"risk_level\": \"medium\", \"reasoning\": \"see doctor soon\"}\n```\nLet me know if you need more."
	var p riskPayload
	require.NoError(t, UnmarshalLoose(text, &p))
	assert.Equal(t, "medium", p.RiskLevel)
}

func TestUnmarshalLooseBareFence(t *testing.T) {
	text := "```\n{\"risk_level\": \"low\"}\n```"
	var p riskPayload
	require.NoError(t, UnmarshalLoose(text, &p))
	assert.Equal(t, "low", p.RiskLevel)
}

func TestUnmarshalLooseJSONEmbeddedInProse(t *testing.T) {
	text := `Sure! {"risk_level":"emergency","reasoning":"contains {braces} in \"quoted\" text"} hope that helps`
	var p riskPayload
	require.NoError(t, UnmarshalLoose(text, &p))
	assert.Equal(t, "emergency", p.RiskLevel)
	assert.Contains(t, p.Reasoning, "{braces}")
}

func TestUnmarshalLooseRejectsGarbage(t *testing.T) {
	var p riskPayload
	assert.Error(t, UnmarshalLoose("I cannot assess this message.", &p))
	assert.Error(t, UnmarshalLoose(`{"risk_level": truncated`, &p))
}
