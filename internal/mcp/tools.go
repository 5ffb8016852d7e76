// ABOUTME: The fixed 8-tool MCP surface over knowledge points and reviews
// ABOUTME: Closed dispatch by tool name; argument validation precedes every store call

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrYang2016/learn-assistant/internal/knowledge"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

// Tool names. The surface is frozen: exactly these eight tools, identical
// across sessions and transports.
const (
	toolListReviews          = "list_reviews"
	toolListKnowledgePoints  = "list_knowledge_points"
	toolGetKnowledgePoint    = "get_knowledge_point"
	toolCreateKnowledgePoint = "create_knowledge_point"
	toolUpdateKnowledgePoint = "update_knowledge_point"
	toolDeleteKnowledgePoint = "delete_knowledge_point"
	toolSubmitRecall         = "submit_recall"
	toolMarkAsReviewed       = "mark_as_reviewed"
)

// ToolDescriptor describes one callable tool for tools/list.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

var toolDescriptors = []ToolDescriptor{
	{
		Name:        toolListReviews,
		Description: "List all review schedules due today or earlier that have not been completed, with the question and answer of each knowledge point.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        toolListKnowledgePoints,
		Description: "List all of the user's knowledge points with their review schedules.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        toolGetKnowledgePoint,
		Description: "Get a single knowledge point and its review schedules by id.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","description":"Knowledge point id"}},"required":["id"]}`),
	},
	{
		Name:        toolCreateKnowledgePoint,
		Description: "Create a knowledge point with a question and answer. Review schedules are created automatically at fixed intervals.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"question":{"type":"string","description":"The question to remember"},"answer":{"type":"string","description":"The answer to the question"}},"required":["question","answer"]}`),
	},
	{
		Name:        toolUpdateKnowledgePoint,
		Description: "Update the question and/or answer of a knowledge point. Omitted fields keep their current value.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","description":"Knowledge point id"},"question":{"type":"string","description":"New question"},"answer":{"type":"string","description":"New answer"}},"required":["id"]}`),
	},
	{
		Name:        toolDeleteKnowledgePoint,
		Description: "Delete a knowledge point and its review schedules.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string","description":"Knowledge point id"}},"required":["id"]}`),
	},
	{
		Name:        toolSubmitRecall,
		Description: "Complete a specific review schedule, recording what was recalled.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"schedule_id":{"type":"string","description":"Review schedule id"},"recall_text":{"type":"string","description":"What the user recalled"}},"required":["schedule_id","recall_text"]}`),
	},
	{
		Name:        toolMarkAsReviewed,
		Description: "Complete the earliest incomplete review schedule of a knowledge point, optionally recording recall text.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"knowledge_point_id":{"type":"string","description":"Knowledge point id"},"recall_text":{"type":"string","description":"What the user recalled"}},"required":["knowledge_point_id"]}`),
	},
}

// ToolDescriptors returns the static tool registry.
func ToolDescriptors() []ToolDescriptor {
	return toolDescriptors
}

// toolCallError classifies a tool failure with the JSON-RPC code the
// transport should report.
type toolCallError struct {
	code    int
	message string
}

func (e *toolCallError) Error() string { return e.message }

func invalidParams(format string, args ...any) error {
	return &toolCallError{code: JSONRPCInvalidParams, message: fmt.Sprintf(format, args...)}
}

// wrapToolErr classifies service-layer failures. Not-found and
// no-incomplete-review are caller errors; anything else is an execution
// failure with the original message preserved.
func wrapToolErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &toolCallError{code: JSONRPCInvalidParams, message: "knowledge point or schedule not found"}
	case errors.Is(err, knowledge.ErrNoIncompleteReview):
		return &toolCallError{code: JSONRPCInvalidParams, message: err.Error()}
	default:
		return &toolCallError{code: JSONRPCInternalError, message: err.Error()}
	}
}

// Wire shapes for tool output. Defined here rather than on the store types
// so the MCP contract stays stable if persistence changes.

type scheduleJSON struct {
	ID               string  `json:"id"`
	KnowledgePointID string  `json:"knowledge_point_id"`
	ReviewNumber     int     `json:"review_number"`
	ReviewDate       string  `json:"review_date"`
	Completed        bool    `json:"completed"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	RecallText       string  `json:"recall_text,omitempty"`
}

type pointJSON struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	InPlan    bool           `json:"in_review_plan"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Schedules []scheduleJSON `json:"review_schedules,omitempty"`
}

type dueReviewJSON struct {
	ScheduleID       string `json:"schedule_id"`
	KnowledgePointID string `json:"knowledge_point_id"`
	ReviewNumber     int    `json:"review_number"`
	ReviewDate       string `json:"review_date"`
	Question         string `json:"question"`
	Answer           string `json:"answer"`
}

func scheduleToJSON(s *store.ReviewSchedule) scheduleJSON {
	out := scheduleJSON{
		ID:               s.ID,
		KnowledgePointID: s.KnowledgePointID,
		ReviewNumber:     s.ReviewNumber,
		ReviewDate:       s.ReviewDate,
		Completed:        s.Completed,
		RecallText:       s.RecallText,
	}
	if s.CompletedAt != nil {
		ts := s.CompletedAt.UTC().Format(time.RFC3339)
		out.CompletedAt = &ts
	}
	return out
}

func pointToJSON(p *store.KnowledgePoint, schedules []*store.ReviewSchedule) pointJSON {
	out := pointJSON{
		ID:        p.ID,
		Question:  p.Question,
		Answer:    p.Answer,
		InPlan:    p.InPlan,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, s := range schedules {
		out.Schedules = append(out.Schedules, scheduleToJSON(s))
	}
	return out
}

func marshalText(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(data), nil
}

// Tool argument shapes.

type idArgs struct {
	ID string `json:"id"`
}

type createArgs struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type updateArgs struct {
	ID       string  `json:"id"`
	Question *string `json:"question"`
	Answer   *string `json:"answer"`
}

type submitRecallArgs struct {
	ScheduleID string `json:"schedule_id"`
	RecallText string `json:"recall_text"`
}

type markReviewedArgs struct {
	KnowledgePointID string `json:"knowledge_point_id"`
	RecallText       string `json:"recall_text"`
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid tool arguments: %v", err)
	}
	return nil
}

// callTool dispatches a named tool call for the bound identity and returns
// the result as JSON text. Required-argument checks run before any store
// access. Unknown names are a method-not-found class error, so transports
// cannot mistake them for execution failures.
func (s *ServerInstance) callTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	userID := s.identity.UserID

	switch name {
	case toolListReviews:
		reviews, err := s.knowledge.ListDueReviews(ctx, userID)
		if err != nil {
			return "", wrapToolErr(err)
		}
		out := make([]dueReviewJSON, 0, len(reviews))
		for _, r := range reviews {
			out = append(out, dueReviewJSON{
				ScheduleID:       r.ID,
				KnowledgePointID: r.KnowledgePointID,
				ReviewNumber:     r.ReviewNumber,
				ReviewDate:       r.ReviewDate,
				Question:         r.Question,
				Answer:           r.Answer,
			})
		}
		return marshalText(out)

	case toolListKnowledgePoints:
		points, err := s.knowledge.List(ctx, userID)
		if err != nil {
			return "", wrapToolErr(err)
		}
		out := make([]pointJSON, 0, len(points))
		for _, p := range points {
			out = append(out, pointToJSON(&p.KnowledgePoint, p.Schedules))
		}
		return marshalText(out)

	case toolGetKnowledgePoint:
		var a idArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.ID == "" {
			return "", invalidParams("id is required")
		}
		point, err := s.knowledge.Get(ctx, userID, a.ID)
		if err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(pointToJSON(&point.KnowledgePoint, point.Schedules))

	case toolCreateKnowledgePoint:
		var a createArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.Question == "" || a.Answer == "" {
			return "", invalidParams("question and answer are required")
		}
		point, err := s.knowledge.Create(ctx, userID, a.Question, a.Answer)
		if err != nil {
			return "", wrapToolErr(err)
		}
		created, err := s.knowledge.Get(ctx, userID, point.ID)
		if err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(pointToJSON(&created.KnowledgePoint, created.Schedules))

	case toolUpdateKnowledgePoint:
		var a updateArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.ID == "" {
			return "", invalidParams("id is required")
		}
		if a.Question == nil && a.Answer == nil {
			return "", invalidParams("at least one of question or answer is required")
		}
		point, err := s.knowledge.Update(ctx, userID, a.ID, a.Question, a.Answer)
		if err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(pointToJSON(point, nil))

	case toolDeleteKnowledgePoint:
		var a idArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.ID == "" {
			return "", invalidParams("id is required")
		}
		if err := s.knowledge.Delete(ctx, userID, a.ID); err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(map[string]any{"deleted": true, "id": a.ID})

	case toolSubmitRecall:
		var a submitRecallArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.ScheduleID == "" || a.RecallText == "" {
			return "", invalidParams("schedule_id and recall_text are required")
		}
		if err := s.knowledge.CompleteReview(ctx, userID, a.ScheduleID, a.RecallText); err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(map[string]any{"completed": true, "schedule_id": a.ScheduleID})

	case toolMarkAsReviewed:
		var a markReviewedArgs
		if err := decodeArgs(args, &a); err != nil {
			return "", err
		}
		if a.KnowledgePointID == "" {
			return "", invalidParams("knowledge_point_id is required")
		}
		scheduleID, err := s.knowledge.MarkAsReviewed(ctx, userID, a.KnowledgePointID, a.RecallText)
		if err != nil {
			return "", wrapToolErr(err)
		}
		return marshalText(map[string]any{"completed": true, "schedule_id": scheduleID})

	default:
		return "", &toolCallError{code: JSONRPCMethodNotFound, message: "unknown tool: " + name}
	}
}
