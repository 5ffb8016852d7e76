// ABOUTME: HTTP API tests over httptest with the mock store
// ABOUTME: Covers auth flow, knowledge CRUD, reviews, and API key management

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrYang2016/learn-assistant/internal/auth"
	"github.com/MrYang2016/learn-assistant/internal/chat"
	"github.com/MrYang2016/learn-assistant/internal/knowledge"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

type webEnv struct {
	server *httptest.Server
	store  *store.MockStore
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	st := store.NewMockStore()

	srv, err := NewServer(Config{
		Store:     st,
		Knowledge: knowledge.NewService(st, nil),
		Tokens:    auth.NewSessionTokens([]byte("test-secret"), time.Hour),
	})
	require.NoError(t, err)

	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	return &webEnv{server: server, store: st}
}

func (e *webEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *webEnv) signup(t *testing.T, email string) string {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": email, "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "signup failed: %s", data)

	var out authResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestHealthz(t *testing.T) {
	env := newWebEnv(t)
	resp, data := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestSignupSigninRefresh(t *testing.T) {
	env := newWebEnv(t)
	env.signup(t, "user@example.com")

	// Duplicate email
	resp, _ := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "user@example.com", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Signin with correct password
	resp, data := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "user@example.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var signin authResponse
	require.NoError(t, json.Unmarshal(data, &signin))

	// Wrong password and unknown email look identical
	resp, _ = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "user@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "nobody@example.com", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Refresh with a valid token
	resp, data = env.do(t, http.MethodPost, "/api/auth/refresh", signin.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed authResponse
	require.NoError(t, json.Unmarshal(data, &refreshed))
	assert.Equal(t, "user@example.com", refreshed.User.Email)
}

func TestSignupValidation(t *testing.T) {
	env := newWebEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "not-an-email", "password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "user@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIRequiresAuth(t *testing.T) {
	env := newWebEnv(t)

	resp, data := env.do(t, http.MethodGet, "/api/knowledge", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "missing authorization header", body["error"])

	resp, data = env.do(t, http.MethodGet, "/api/knowledge", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "invalid token", body["error"])
}

func TestKnowledgeCRUD(t *testing.T) {
	env := newWebEnv(t)
	token := env.signup(t, "user@example.com")

	// Create
	resp, data := env.do(t, http.MethodPost, "/api/knowledge", token, map[string]string{
		"question": "What is TDD?", "answer": "Test-driven development.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create failed: %s", data)
	var created knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Len(t, created.Schedules, 4)

	// Get
	resp, data = env.do(t, http.MethodGet, "/api/knowledge/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "What is TDD?", got.Question)

	// Partial update
	resp, data = env.do(t, http.MethodPatch, "/api/knowledge/"+created.ID, token, map[string]string{
		"answer": "Red, green, refactor.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, "What is TDD?", updated.Question)
	assert.Equal(t, "Red, green, refactor.", updated.Answer)

	// List
	resp, data = env.do(t, http.MethodGet, "/api/knowledge", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points []knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &points))
	assert.Len(t, points, 1)

	// Delete
	resp, _ = env.do(t, http.MethodDelete, "/api/knowledge/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/knowledge/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKnowledgeOwnership(t *testing.T) {
	env := newWebEnv(t)
	alice := env.signup(t, "alice@example.com")
	bob := env.signup(t, "bob@example.com")

	_, data := env.do(t, http.MethodPost, "/api/knowledge", alice, map[string]string{
		"question": "secret", "answer": "stuff",
	})
	var created knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &created))

	resp, _ := env.do(t, http.MethodGet, "/api/knowledge/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/knowledge/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCompleteReview(t *testing.T) {
	env := newWebEnv(t)
	token := env.signup(t, "user@example.com")

	_, data := env.do(t, http.MethodPost, "/api/knowledge", token, map[string]string{
		"question": "Q", "answer": "A",
	})
	var created knowledgeJSON
	require.NoError(t, json.Unmarshal(data, &created))
	scheduleID := created.Schedules[0].ID

	resp, _ := env.do(t, http.MethodPost, "/api/reviews/"+scheduleID+"/complete", token, map[string]string{
		"recall_text": "remembered",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// recall_text is required
	resp, _ = env.do(t, http.MethodPost, "/api/reviews/"+scheduleID+"/complete", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newWebEnv(t)
	token := env.signup(t, "user@example.com")

	// Create: the raw key appears exactly once
	resp, data := env.do(t, http.MethodPost, "/api/keys", token, map[string]any{
		"name": "agent key", "expires_in_days": 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created apiKeyJSON
	require.NoError(t, json.Unmarshal(data, &created))
	assert.NotEmpty(t, created.Key)
	assert.NotNil(t, created.ExpiresAt)

	// List: no raw key
	resp, data = env.do(t, http.MethodGet, "/api/keys", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keys []apiKeyJSON
	require.NoError(t, json.Unmarshal(data, &keys))
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Key)
	assert.Equal(t, created.Prefix, keys[0].Prefix)

	// Rename
	resp, _ = env.do(t, http.MethodPatch, "/api/keys/"+created.ID, token, map[string]string{
		"name": "renamed",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Delete
	resp, _ = env.do(t, http.MethodDelete, "/api/keys/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = env.do(t, http.MethodGet, "/api/keys", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Empty(t, keys)
}

func TestSearchAndChatNotConfigured(t *testing.T) {
	env := newWebEnv(t)
	token := env.signup(t, "user@example.com")

	resp, _ := env.do(t, http.MethodPost, "/api/search", token, map[string]string{"query": "q"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/chat", token, map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/analyze-recall", token, map[string]string{
		"correct_answer": "a", "recall_text": "b",
	})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

type stubCompleter struct {
	got    []chat.Message
	answer string
}

func (c *stubCompleter) Complete(_ context.Context, messages []chat.Message) (string, error) {
	c.got = messages
	return c.answer, nil
}

func TestAnalyzeRecall(t *testing.T) {
	st := store.NewMockStore()
	completer := &stubCompleter{answer: "Mostly right, but you missed the scheduler."}
	srv, err := NewServer(Config{
		Store:     st,
		Knowledge: knowledge.NewService(st, nil),
		Tokens:    auth.NewSessionTokens([]byte("test-secret"), time.Hour),
		Chat:      chat.NewService(chat.NewSearcher(st, stubEmbedder{}), completer, nil),
	})
	require.NoError(t, err)

	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)
	env := &webEnv{server: server, store: st}
	token := env.signup(t, "user@example.com")

	resp, data := env.do(t, http.MethodPost, "/api/analyze-recall", token, map[string]string{
		"question":       "What is a goroutine?",
		"correct_answer": "A lightweight thread managed by the Go scheduler.",
		"recall_text":    "A thread thing.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "analyze failed: %s", data)

	var out struct {
		Analysis string `json:"analysis"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Mostly right, but you missed the scheduler.", out.Analysis)

	// The comparison prompt carries all three fields.
	require.Len(t, completer.got, 2)
	assert.Contains(t, completer.got[1].Content, "What is a goroutine?")
	assert.Contains(t, completer.got[1].Content, "A thread thing.")

	// Missing fields are rejected before any LLM call.
	resp, _ = env.do(t, http.MethodPost, "/api/analyze-recall", token, map[string]string{
		"recall_text": "only recall",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
