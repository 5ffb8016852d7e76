// ABOUTME: Knowledge point CRUD, review completion, search, and chat handlers
// ABOUTME: Embeddings are backfilled asynchronously after create and update

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrYang2016/learn-assistant/internal/chat"
	"github.com/MrYang2016/learn-assistant/internal/store"
)

type scheduleJSON struct {
	ID           string  `json:"id"`
	ReviewNumber int     `json:"review_number"`
	ReviewDate   string  `json:"review_date"`
	Completed    bool    `json:"completed"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	RecallText   string  `json:"recall_text,omitempty"`
}

type knowledgeJSON struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	InPlan    bool           `json:"in_review_plan"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Schedules []scheduleJSON `json:"review_schedules,omitempty"`
}

func toKnowledgeJSON(p *store.KnowledgePoint, schedules []*store.ReviewSchedule) knowledgeJSON {
	out := knowledgeJSON{
		ID:        p.ID,
		Question:  p.Question,
		Answer:    p.Answer,
		InPlan:    p.InPlan,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, sched := range schedules {
		sj := scheduleJSON{
			ID:           sched.ID,
			ReviewNumber: sched.ReviewNumber,
			ReviewDate:   sched.ReviewDate,
			Completed:    sched.Completed,
			RecallText:   sched.RecallText,
		}
		if sched.CompletedAt != nil {
			ts := sched.CompletedAt.UTC().Format(time.RFC3339)
			sj.CompletedAt = &ts
		}
		out.Schedules = append(out.Schedules, sj)
	}
	return out
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	points, err := s.knowledge.List(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]knowledgeJSON, 0, len(points))
	for _, p := range points {
		out = append(out, toKnowledgeJSON(&p.KnowledgePoint, p.Schedules))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	point, err := s.knowledge.Get(r.Context(), identity(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toKnowledgeJSON(&point.KnowledgePoint, point.Schedules))
}

type createKnowledgeRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) handleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.Answer == "" {
		s.writeError(w, http.StatusBadRequest, "question and answer are required")
		return
	}

	userID := identity(r).UserID
	point, err := s.knowledge.Create(r.Context(), userID, req.Question, req.Answer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.vectorizeAsync(userID, point.ID, point.Question, point.Answer)

	created, err := s.knowledge.Get(r.Context(), userID, point.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toKnowledgeJSON(&created.KnowledgePoint, created.Schedules))
}

type updateKnowledgeRequest struct {
	Question *string `json:"question"`
	Answer   *string `json:"answer"`
}

func (s *Server) handleUpdateKnowledge(w http.ResponseWriter, r *http.Request) {
	var req updateKnowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == nil && req.Answer == nil {
		s.writeError(w, http.StatusBadRequest, "at least one of question or answer is required")
		return
	}

	userID := identity(r).UserID
	point, err := s.knowledge.Update(r.Context(), userID, chi.URLParam(r, "id"), req.Question, req.Answer)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.vectorizeAsync(userID, point.ID, point.Question, point.Answer)
	s.writeJSON(w, http.StatusOK, toKnowledgeJSON(point, nil))
}

func (s *Server) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.Delete(r.Context(), identity(r).UserID, chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// vectorizeAsync computes and stores the point's embedding in the
// background. Failures are logged; content changes are never blocked or
// rolled back over an embedding provider outage.
func (s *Server) vectorizeAsync(userID, pointID, question, answer string) {
	if s.embedder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vec, err := s.embedder.EmbedKnowledgePoint(ctx, question, answer)
		if err != nil {
			s.logger.Warn("embedding failed", "point_id", pointID, "error", err)
			return
		}
		if err := s.knowledge.SetEmbedding(ctx, userID, pointID, vec); err != nil {
			s.logger.Warn("storing embedding failed", "point_id", pointID, "error", err)
		}
	}()
}

type dueReviewJSON struct {
	ScheduleID       string `json:"schedule_id"`
	KnowledgePointID string `json:"knowledge_point_id"`
	ReviewNumber     int    `json:"review_number"`
	ReviewDate       string `json:"review_date"`
	Question         string `json:"question"`
	Answer           string `json:"answer"`
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.knowledge.ListDueReviews(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]dueReviewJSON, 0, len(reviews))
	for _, rev := range reviews {
		out = append(out, dueReviewJSON{
			ScheduleID:       rev.ID,
			KnowledgePointID: rev.KnowledgePointID,
			ReviewNumber:     rev.ReviewNumber,
			ReviewDate:       rev.ReviewDate,
			Question:         rev.Question,
			Answer:           rev.Answer,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type completeReviewRequest struct {
	RecallText string `json:"recall_text"`
}

func (s *Server) handleCompleteReview(w http.ResponseWriter, r *http.Request) {
	var req completeReviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecallText == "" {
		s.writeError(w, http.StatusBadRequest, "recall_text is required")
		return
	}

	err := s.knowledge.CompleteReview(r.Context(), identity(r).UserID, chi.URLParam(r, "id"), req.RecallText)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

type searchRequest struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		s.writeError(w, http.StatusNotImplemented, "search is not configured")
		return
	}

	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.searcher.Search(r.Context(), identity(r).UserID, req.Query, req.Threshold, req.Limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if results == nil {
		results = []chat.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.writeError(w, http.StatusNotImplemented, "chat is not configured")
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	if req.Messages[len(req.Messages)-1].Role != "user" {
		s.writeError(w, http.StatusBadRequest, "last message must be from user")
		return
	}

	resp, err := s.chat.Chat(r.Context(), identity(r).UserID, req.Messages)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type analyzeRecallRequest struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correct_answer"`
	RecallText    string `json:"recall_text"`
}

type analyzeRecallResponse struct {
	Analysis string `json:"analysis"`
}

func (s *Server) handleAnalyzeRecall(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.writeError(w, http.StatusNotImplemented, "chat is not configured")
		return
	}

	var req analyzeRecallRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecallText == "" || req.CorrectAnswer == "" {
		s.writeError(w, http.StatusBadRequest, "recall_text and correct_answer are required")
		return
	}

	analysis, err := s.chat.AnalyzeRecall(r.Context(), req.Question, req.CorrectAnswer, req.RecallText)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analyzeRecallResponse{Analysis: analysis})
}
