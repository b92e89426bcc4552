package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arogya/internal/state"
	"arogya/internal/storage"
	"arogya/internal/supervisor"
)

type stubChat struct {
	lastSessionID string
	lastMessage   string
	response      *supervisor.Response
	err           error
}

func (s *stubChat) Handle(ctx context.Context, sessionID, message string) (*supervisor.Response, error) {
	s.lastSessionID = sessionID
	s.lastMessage = message
	if s.err != nil {
		return nil, s.err
	}
	if s.response != nil {
		return s.response, nil
	}
	return &supervisor.Response{
		Response:  "noted",
		SessionID: sessionID,
		Intent:    "general",
		RiskLevel: "low",
	}, nil
}

func newTestServer(t *testing.T, chat *stubChat) (*httptest.Server, storage.SessionStore) {
	t.Helper()
	sessions := storage.NewMemorySessionStore()
	srv := httptest.NewServer(NewServer(chat, sessions).Handler())
	t.Cleanup(srv.Close)
	return srv, sessions
}

func postChat(t *testing.T, srv *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestChatGeneratesSessionID(t *testing.T) {
	chat := &stubChat{}
	srv, _ := newTestServer(t, chat)

	resp, body := postChat(t, srv, `{"message": "hello"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", chat.lastMessage)
	assert.True(t, strings.HasPrefix(chat.lastSessionID, "session_"))
	assert.Equal(t, chat.lastSessionID, body["session_id"])
}

func TestChatReusesProvidedSessionID(t *testing.T) {
	chat := &stubChat{}
	srv, _ := newTestServer(t, chat)

	_, body := postChat(t, srv, `{"message": "hi again", "session_id": "session_abc123"}`)
	assert.Equal(t, "session_abc123", chat.lastSessionID)
	assert.Equal(t, "session_abc123", body["session_id"])
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, body := postChat(t, srv, `{"message": "   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "message is required", body["error"])
}

func TestChatRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, _ := postChat(t, srv, `{"message": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatTurnFailureStillAnswers(t *testing.T) {
	chat := &stubChat{err: assert.AnError}
	srv, _ := newTestServer(t, chat)

	resp, body := postChat(t, srv, `{"message": "hello", "session_id": "session_x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["response"], "something went wrong")
	assert.Equal(t, "session_x", body["session_id"])
}

func TestGetSession(t *testing.T) {
	srv, sessions := newTestServer(t, &stubChat{})

	sess := state.NewSession("session_y")
	sess.AddMessage(state.RoleUser, "I have a cough")
	sess.CurrentIntent = "symptom"
	require.NoError(t, sessions.Save(context.Background(), sess))

	resp, err := http.Get(srv.URL + "/session/session_y")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "session_y", body["session_id"])
	assert.Equal(t, "symptom", body["current_intent"])
	assert.Len(t, body["messages"], 1)
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, err := http.Get(srv.URL + "/session/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	srv, sessions := newTestServer(t, &stubChat{})
	ctx := context.Background()

	require.NoError(t, sessions.Save(ctx, state.NewSession("session_z")))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/session/session_z", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	loaded, err := sessions.Load(ctx, "session_z")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDeleteSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/session/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, err := http.Post(srv.URL+"/session", "application/json", strings.NewReader(`{"user_id": "u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&created))
	id, ok := created["session_id"].(string)
	require.True(t, ok)
	assert.Equal(t, "u1", created["user_id"])

	// Before any chat turn, the lookup serves the lightweight record.
	getResp, err := http.Get(srv.URL + "/session/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/session/"+id, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	getResp2, err := http.Get(srv.URL + "/session/" + id)
	require.NoError(t, err)
	defer getResp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp2.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
