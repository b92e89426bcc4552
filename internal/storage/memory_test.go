package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arogya/internal/graph"
	"arogya/internal/state"
)

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()

	sess := state.NewSession("s1")
	sess.AddMessage(state.RoleUser, "I have a headache")
	sess.StartWorkflow("symptoms")
	sess.MarkAwaiting("How long has it lasted?")

	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "symptoms", loaded.ActiveWorkflow)
	assert.True(t, loaded.AwaitingInput)
	assert.Equal(t, "How long has it lasted?", loaded.PendingQuestion)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "I have a headache", loaded.Messages[0].Content)

	ok, err := store.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "s1"))
	loaded, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing session loads as nil, not error")
}

func TestMemoryCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	chk := graph.NewCheckpoint("s1", "symptoms")
	chk.SuspendedAt = "followup"
	chk.State = []byte(`{"iteration_count":2}`)
	chk.Pending = &graph.Suspend{Type: "follow_up_question", Question: "How severe?"}

	require.NoError(t, store.Save(ctx, chk))

	loaded, err := store.Load(ctx, "s1", "symptoms")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "followup", loaded.SuspendedAt)
	assert.JSONEq(t, `{"iteration_count":2}`, string(loaded.State))
	require.NotNil(t, loaded.Pending)
	assert.Equal(t, "How severe?", loaded.Pending.Question)

	// Checkpoint namespaces are isolated per workflow type.
	other, err := store.Load(ctx, "s1", "dosha")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, store.Delete(ctx, "s1", "symptoms"))
	loaded, err = store.Load(ctx, "s1", "symptoms")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
