// Package storage provides the persistence contract for sessions and
// workflow checkpoints: Redis in normal operation, an in-process map as a
// degraded but functioning fallback when Redis is unreachable.
package storage

import (
	"context"

	"arogya/internal/graph"
	"arogya/internal/state"
)

// SessionStore persists Session records keyed by session id with TTL.
// Load returns (nil, nil) when the id is unknown.
type SessionStore interface {
	Save(ctx context.Context, sess *state.Session) error
	Load(ctx context.Context, id string) (*state.Session, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// CheckpointStore persists execution checkpoints keyed by
// (session id, workflow type). Load returns (nil, nil) when absent.
type CheckpointStore interface {
	Save(ctx context.Context, chk *graph.Checkpoint) error
	Load(ctx context.Context, sessionID, workflow string) (*graph.Checkpoint, error)
	Delete(ctx context.Context, sessionID, workflow string) error
}
