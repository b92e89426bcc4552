package graph

import (
	"encoding/json"
	"time"
)

// Checkpoint is the minimal persisted execution state for one
// (session id, workflow type) pair. State holds the node-local state
// snapshot taken before the suspending node produced any update, so a
// resume re-enters the node with a self-consistent view.
type Checkpoint struct {
	SessionID   string          `json:"session_id"`
	Workflow    string          `json:"workflow"`
	SuspendedAt string          `json:"suspended_at,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
	Pending     *Suspend        `json:"pending,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewCheckpoint creates an empty checkpoint for a fresh workflow start.
func NewCheckpoint(sessionID, workflow string) *Checkpoint {
	return &Checkpoint{
		SessionID: sessionID,
		Workflow:  workflow,
		UpdatedAt: time.Now(),
	}
}

// Key derives the deterministic identity key, isolating each workflow
// type's checkpoint namespace within a session.
func (c *Checkpoint) Key() string {
	return CheckpointKey(c.SessionID, c.Workflow)
}

// CheckpointKey builds the store key for a (session id, workflow) pair.
func CheckpointKey(sessionID, workflow string) string {
	return sessionID + ":" + workflow
}
