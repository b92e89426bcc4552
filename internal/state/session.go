package state

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry in the conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskLevel is an ordered medical risk classification.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

var riskSeverity = map[RiskLevel]int{
	RiskLow:       0,
	RiskMedium:    1,
	RiskHigh:      2,
	RiskEmergency: 3,
}

// Severity returns the ordinal of the risk level, -1 for unknown values.
func (r RiskLevel) Severity() int {
	if s, ok := riskSeverity[r]; ok {
		return s
	}
	return -1
}

// ParseRiskLevel validates a raw string against the known level set.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r := RiskLevel(s)
	_, ok := riskSeverity[r]
	return r, ok
}

// Session tracks one end-user conversation across turns and workflows.
// It is exclusively owned by the turn currently processing its session id.
type Session struct {
	ID     string `json:"session_id"`
	UserID string `json:"user_id,omitempty"`

	Messages []Message `json:"messages"`

	CurrentIntent    string    `json:"current_intent,omitempty"`
	IntentConfidence float64   `json:"intent_confidence,omitempty"`
	RiskLevel        RiskLevel `json:"risk_level"`

	ActiveWorkflow    string     `json:"active_workflow,omitempty"`
	ActiveNode        string     `json:"active_node,omitempty"`
	WorkflowStartedAt *time.Time `json:"workflow_started_at,omitempty"`
	AwaitingInput     bool       `json:"awaiting_input"`
	PendingQuestion   string     `json:"pending_question,omitempty"`

	HandoffBag       map[string]any `json:"handoff_bag,omitempty"`
	PreviousWorkflow string         `json:"previous_workflow,omitempty"`
	GraphHistory     []string       `json:"graph_history,omitempty"`

	SafetyFlags          []string `json:"safety_flags,omitempty"`
	EmergencyKeywords    []string `json:"emergency_keywords_detected,omitempty"`
	RequiresHumanReview  bool     `json:"requires_human_review,omitempty"`
	ReportedSymptoms     []string `json:"reported_symptoms,omitempty"`
	SuggestedSpecialties []string `json:"suggested_specialties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh session for the given id.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		RiskLevel: RiskLow,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends to the conversation history. History is append-only.
func (s *Session) AddMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.touch()
}

// Recent returns the last n messages.
func (s *Session) Recent(n int) []Message {
	if len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// AddSafetyFlag records a flag once; insertion order of duplicates is ignored.
func (s *Session) AddSafetyFlag(flag string) {
	for _, f := range s.SafetyFlags {
		if f == flag {
			return
		}
	}
	s.SafetyFlags = append(s.SafetyFlags, flag)
	s.touch()
}

// StartWorkflow marks a workflow active, pushing any previously active one
// onto the history first.
func (s *Session) StartWorkflow(name string) {
	if s.ActiveWorkflow != "" {
		s.PreviousWorkflow = s.ActiveWorkflow
		s.GraphHistory = append(s.GraphHistory, s.ActiveWorkflow)
	}
	now := time.Now()
	s.ActiveWorkflow = name
	s.ActiveNode = ""
	s.WorkflowStartedAt = &now
	s.touch()
}

// CompleteWorkflow appends the active workflow to history and clears the
// execution pointer.
func (s *Session) CompleteWorkflow() {
	if s.ActiveWorkflow != "" {
		s.PreviousWorkflow = s.ActiveWorkflow
		s.GraphHistory = append(s.GraphHistory, s.ActiveWorkflow)
	}
	s.ActiveWorkflow = ""
	s.ActiveNode = ""
	s.WorkflowStartedAt = nil
	s.ClearAwaiting()
	s.touch()
}

// MarkAwaiting flags the session as paused on a pending question.
func (s *Session) MarkAwaiting(question string) {
	s.AwaitingInput = true
	s.PendingQuestion = question
	s.touch()
}

// ClearAwaiting resets the awaiting-input state.
func (s *Session) ClearAwaiting() {
	s.AwaitingInput = false
	s.PendingQuestion = ""
	s.touch()
}

// ResetExecution clears the execution pointer without touching history,
// used when the turn must recover from an unknown-workflow condition.
func (s *Session) ResetExecution() {
	s.ActiveWorkflow = ""
	s.ActiveNode = ""
	s.WorkflowStartedAt = nil
	s.ClearAwaiting()
}

// CheckInvariant verifies awaiting_input implies an active workflow and a
// pending question. Checked after every turn.
func (s *Session) CheckInvariant() error {
	if s.AwaitingInput {
		if s.ActiveWorkflow == "" {
			return fmt.Errorf("session %s: awaiting input with no active workflow", s.ID)
		}
		if s.PendingQuestion == "" {
			return fmt.Errorf("session %s: awaiting input with no pending question", s.ID)
		}
	} else if s.PendingQuestion != "" {
		return fmt.Errorf("session %s: pending question set while not awaiting input", s.ID)
	}
	return nil
}

// IsEmergency reports whether the session is in an emergency state.
func (s *Session) IsEmergency() bool {
	return s.RiskLevel == RiskEmergency
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now()
}
