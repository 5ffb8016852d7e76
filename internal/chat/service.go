// ABOUTME: RAG chat over the user's knowledge base
// ABOUTME: Builds a context prompt from vector search hits and calls an LLM

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the assistant's answer plus the knowledge points it drew on.
type Response struct {
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
}

// LLMConfig holds chat-completion provider settings (OpenAI-compatible,
// e.g. DeepSeek).
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Completer produces a chat completion. Satisfied by *LLMClient.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Service answers user questions grounded in their own knowledge base.
type Service struct {
	searcher  *Searcher
	completer Completer
	logger    *slog.Logger
}

// NewService creates a chat service. Pass nil logger for default.
func NewService(searcher *Searcher, completer Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher:  searcher,
		completer: completer,
		logger:    logger.With("component", "chat"),
	}
}

const contextSystemPrompt = `You are a learning assistant. Answer using the user's knowledge base.

The knowledge points most relevant to the question are listed below:

%s

Ground your answer in these knowledge points. You may supplement them with
your own knowledge, but say which parts come from the knowledge base and
which are inference. Keep answers concise, accurate, and helpful.`

const emptySystemPrompt = `You are a learning assistant. The user's knowledge base has nothing ` +
	`directly relevant to this question. Answer from your own knowledge and suggest ` +
	`knowledge points the user could add to their library.`

// Chat answers the latest user message. The final message must have role
// "user". Search failures degrade to an answer without knowledge-base
// context rather than failing the chat.
func (s *Service) Chat(ctx context.Context, userID string, messages []Message) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("messages are required")
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		return nil, errors.New("last message must be from user")
	}

	var sources []SearchResult
	results, err := s.searcher.Search(ctx, userID, last.Content, chatSearchThreshold, chatSearchLimit)
	if err != nil {
		s.logger.Warn("knowledge search failed, answering without context", "error", err)
	} else {
		sources = results
	}

	system := emptySystemPrompt
	if len(sources) > 0 {
		var sb strings.Builder
		for i, src := range sources {
			if i > 0 {
				sb.WriteString("\n\n---\n\n")
			}
			fmt.Fprintf(&sb, "[Knowledge point %d] (similarity: %.1f%%)\nQuestion: %s\nAnswer: %s",
				i+1, src.Similarity*100, src.Question, src.Answer)
		}
		system = fmt.Sprintf(contextSystemPrompt, sb.String())
	}

	llmMessages := append([]Message{{Role: "system", Content: system}}, messages...)
	answer, err := s.completer.Complete(ctx, llmMessages)
	if err != nil {
		return nil, fmt.Errorf("completing chat: %w", err)
	}

	return &Response{Answer: answer, Sources: sources}, nil
}

const recallSystemPrompt = `You are a learning assistant reviewing a student's active recall.
Compare the student's recalled answer against the correct answer:
1. Point out what the student recalled correctly.
2. Point out what is wrong or missing.
3. Offer improvement suggestions where they help.
Be friendly and keep the feedback clearly structured.`

const recallUserPrompt = `Question: %s

Student's recall:
%s

Correct answer:
%s

Compare the recall against the correct answer, listing what is correct,
what is wrong or missing, and any suggestions for improvement.`

// AnalyzeRecall compares what the user recalled from memory against the
// stored answer and returns the LLM's feedback. The question is optional
// context for the comparison.
func (s *Service) AnalyzeRecall(ctx context.Context, question, correctAnswer, recallText string) (string, error) {
	if recallText == "" || correctAnswer == "" {
		return "", errors.New("recall text and correct answer are required")
	}
	if question == "" {
		question = "Knowledge point review"
	}

	messages := []Message{
		{Role: "system", Content: recallSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(recallUserPrompt, question, recallText, correctAnswer)},
	}
	analysis, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("analyzing recall: %w", err)
	}
	return analysis, nil
}

// LLMClient calls an OpenAI-compatible chat-completions endpoint.
type LLMClient struct {
	cfg    LLMConfig
	client *http.Client
}

// NewLLMClient creates a chat-completion client.
func NewLLMClient(cfg LLMConfig) *LLMClient {
	return &LLMClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the conversation and returns the assistant's reply.
func (c *LLMClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("llm provider: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("llm provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("llm provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
