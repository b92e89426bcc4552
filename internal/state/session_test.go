package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSafetyFlagDeduplicates(t *testing.T) {
	s := NewSession("s1")
	s.AddSafetyFlag("emergency_keywords_detected")
	s.AddSafetyFlag("missing_disclaimer")
	s.AddSafetyFlag("emergency_keywords_detected")

	assert.Equal(t, []string{"emergency_keywords_detected", "missing_disclaimer"}, s.SafetyFlags)
}

func TestStartWorkflowPushesPreviousOntoHistory(t *testing.T) {
	s := NewSession("s1")
	s.StartWorkflow("symptoms")
	require.Equal(t, "symptoms", s.ActiveWorkflow)
	assert.Empty(t, s.GraphHistory)

	s.StartWorkflow("doctors")
	assert.Equal(t, "doctors", s.ActiveWorkflow)
	assert.Equal(t, "symptoms", s.PreviousWorkflow)
	assert.Equal(t, []string{"symptoms"}, s.GraphHistory)
}

func TestCompleteWorkflowClearsPointer(t *testing.T) {
	s := NewSession("s1")
	s.StartWorkflow("dosha")
	s.MarkAwaiting("How is your digestion?")

	s.CompleteWorkflow()

	assert.Empty(t, s.ActiveWorkflow)
	assert.Nil(t, s.WorkflowStartedAt)
	assert.False(t, s.AwaitingInput)
	assert.Empty(t, s.PendingQuestion)
	assert.Equal(t, []string{"dosha"}, s.GraphHistory)
	assert.NoError(t, s.CheckInvariant())
}

func TestInvariantAwaitingRequiresWorkflowAndQuestion(t *testing.T) {
	s := NewSession("s1")
	s.AwaitingInput = true
	assert.Error(t, s.CheckInvariant())

	s.ActiveWorkflow = "symptoms"
	assert.Error(t, s.CheckInvariant())

	s.PendingQuestion = "How long has this lasted?"
	assert.NoError(t, s.CheckInvariant())

	s.AwaitingInput = false
	assert.Error(t, s.CheckInvariant(), "stale pending question must be flagged")
}

func TestRiskLevelOrdering(t *testing.T) {
	assert.Less(t, RiskLow.Severity(), RiskMedium.Severity())
	assert.Less(t, RiskMedium.Severity(), RiskHigh.Severity())
	assert.Less(t, RiskHigh.Severity(), RiskEmergency.Severity())

	_, ok := ParseRiskLevel("critical")
	assert.False(t, ok)

	lvl, ok := ParseRiskLevel("emergency")
	require.True(t, ok)
	assert.Equal(t, RiskEmergency, lvl)
}

func TestRecentReturnsTail(t *testing.T) {
	s := NewSession("s1")
	for _, m := range []string{"a", "b", "c", "d"} {
		s.AddMessage(RoleUser, m)
	}
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)
}
