// ABOUTME: Tests for the RAG chat service and the LLM client
// ABOUTME: Fake completer captures prompts; httptest stands in for the provider

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrYang2016/learn-assistant/internal/store"
)

type fakeCompleter struct {
	gotMessages []Message
	answer      string
	err         error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	f.gotMessages = messages
	return f.answer, f.err
}

func TestChatIncludesKnowledgeContext(t *testing.T) {
	st := store.NewMockStore()
	addPoint(t, st, "user-1", "kp-1", "What is a goroutine?", []float32{1, 0})

	completer := &fakeCompleter{answer: "A goroutine is a lightweight thread."}
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1, 0}}), completer, nil)

	resp, err := svc.Chat(context.Background(), "user-1", []Message{
		{Role: "user", Content: "Tell me about goroutines"},
	})
	require.NoError(t, err)

	assert.Equal(t, "A goroutine is a lightweight thread.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "kp-1", resp.Sources[0].ID)

	require.NotEmpty(t, completer.gotMessages)
	system := completer.gotMessages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "What is a goroutine?")
	assert.Contains(t, system.Content, "answer for What is a goroutine?")
}

func TestChatEmptyKnowledgeBasePrompt(t *testing.T) {
	st := store.NewMockStore()
	completer := &fakeCompleter{answer: "General answer."}
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1, 0}}), completer, nil)

	resp, err := svc.Chat(context.Background(), "user-1", []Message{
		{Role: "user", Content: "Anything?"},
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Sources)
	assert.Contains(t, completer.gotMessages[0].Content, "nothing")
}

func TestChatSearchFailureDegrades(t *testing.T) {
	st := store.NewMockStore()
	completer := &fakeCompleter{answer: "Still answered."}
	svc := NewService(NewSearcher(st, &fakeEmbedder{err: assert.AnError}), completer, nil)

	resp, err := svc.Chat(context.Background(), "user-1", []Message{
		{Role: "user", Content: "Question"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Still answered.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestChatValidatesMessages(t *testing.T) {
	st := store.NewMockStore()
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1}}), &fakeCompleter{}, nil)

	_, err := svc.Chat(context.Background(), "user-1", nil)
	require.Error(t, err)

	_, err = svc.Chat(context.Background(), "user-1", []Message{
		{Role: "assistant", Content: "I speak last"},
	})
	require.Error(t, err)
}

func TestChatPreservesConversationHistory(t *testing.T) {
	st := store.NewMockStore()
	completer := &fakeCompleter{answer: "ok"}
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1}}), completer, nil)

	history := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	_, err := svc.Chat(context.Background(), "user-1", history)
	require.NoError(t, err)

	// System prompt plus the full history, in order.
	require.Len(t, completer.gotMessages, 4)
	assert.Equal(t, "first", completer.gotMessages[1].Content)
	assert.Equal(t, "second", completer.gotMessages[3].Content)
}

func TestAnalyzeRecallBuildsComparisonPrompt(t *testing.T) {
	st := store.NewMockStore()
	completer := &fakeCompleter{answer: "You got the scheduler part right."}
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1}}), completer, nil)

	analysis, err := svc.AnalyzeRecall(context.Background(),
		"What is a goroutine?",
		"A lightweight thread managed by the Go scheduler.",
		"Some kind of thread, scheduled by Go itself.")
	require.NoError(t, err)
	assert.Equal(t, "You got the scheduler part right.", analysis)

	require.Len(t, completer.gotMessages, 2)
	assert.Equal(t, "system", completer.gotMessages[0].Role)
	user := completer.gotMessages[1]
	assert.Equal(t, "user", user.Role)
	assert.Contains(t, user.Content, "What is a goroutine?")
	assert.Contains(t, user.Content, "Some kind of thread, scheduled by Go itself.")
	assert.Contains(t, user.Content, "A lightweight thread managed by the Go scheduler.")
}

func TestAnalyzeRecallDefaultsQuestion(t *testing.T) {
	st := store.NewMockStore()
	completer := &fakeCompleter{answer: "ok"}
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1}}), completer, nil)

	_, err := svc.AnalyzeRecall(context.Background(), "", "correct", "recalled")
	require.NoError(t, err)
	assert.Contains(t, completer.gotMessages[1].Content, "Knowledge point review")
}

func TestAnalyzeRecallValidatesInput(t *testing.T) {
	st := store.NewMockStore()
	svc := NewService(NewSearcher(st, &fakeEmbedder{vec: []float32{1}}), &fakeCompleter{}, nil)

	_, err := svc.AnalyzeRecall(context.Background(), "q", "", "recalled")
	require.Error(t, err)

	_, err = svc.AnalyzeRecall(context.Background(), "q", "correct", "")
	require.Error(t, err)
}

func TestLLMClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		require.NotEmpty(t, req.Messages)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}},
			},
		})
	}))
	defer server.Close()

	client := NewLLMClient(LLMConfig{BaseURL: server.URL, APIKey: "test-key", Model: "deepseek-chat"})
	answer, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", answer)
}

func TestLLMClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limited"},
		})
	}))
	defer server.Close()

	client := NewLLMClient(LLMConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLLMClientNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	client := NewLLMClient(LLMConfig{BaseURL: server.URL, APIKey: "k", Model: "m"})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
}
