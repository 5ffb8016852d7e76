// ABOUTME: Knowledge point and review schedule operations scoped to a user
// ABOUTME: Shared by the MCP tool adapter and the REST API

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MrYang2016/learn-assistant/internal/store"
)

// ReviewIntervals are the day offsets from creation at which a knowledge
// point comes up for review. Review numbers are assigned 1..len in order.
var ReviewIntervals = []int{1, 7, 16, 35}

// ErrNoIncompleteReview is returned by MarkAsReviewed when every schedule of
// the point has already been completed.
var ErrNoIncompleteReview = errors.New("no incomplete review schedule found")

// Service implements knowledge operations against the store. It holds no
// mutable state, so one instance is safe for concurrent use by any number of
// requests; every method takes the acting user explicitly.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a knowledge service. Pass nil logger for default.
func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "knowledge"),
		now:    time.Now,
	}
}

// Create inserts a knowledge point together with its review schedules at the
// fixed interval offsets. The insert is atomic: if any schedule cannot be
// created the point is rolled back too.
func (s *Service) Create(ctx context.Context, userID, question, answer string) (*store.KnowledgePoint, error) {
	now := s.now().UTC()
	point := &store.KnowledgePoint{
		ID:        uuid.New().String(),
		UserID:    userID,
		Question:  question,
		Answer:    answer,
		InPlan:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	schedules := make([]*store.ReviewSchedule, len(ReviewIntervals))
	for i, days := range ReviewIntervals {
		schedules[i] = &store.ReviewSchedule{
			ID:               uuid.New().String(),
			KnowledgePointID: point.ID,
			UserID:           userID,
			ReviewNumber:     i + 1,
			ReviewDate:       now.AddDate(0, 0, days).Format(time.DateOnly),
		}
	}

	if err := s.store.CreatePoint(ctx, point, schedules); err != nil {
		return nil, fmt.Errorf("creating knowledge point: %w", err)
	}

	s.logger.Debug("knowledge point created", "point_id", point.ID, "user_id", userID)
	return point, nil
}

// Get returns a knowledge point with its schedules, or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, id string) (*store.PointWithSchedules, error) {
	return s.store.GetPoint(ctx, userID, id)
}

// List returns all of the user's knowledge points with schedules, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]*store.PointWithSchedules, error) {
	return s.store.ListPoints(ctx, userID)
}

// Update applies a partial update; nil fields keep their prior value.
func (s *Service) Update(ctx context.Context, userID, id string, question, answer *string) (*store.KnowledgePoint, error) {
	return s.store.UpdatePoint(ctx, userID, id, store.KnowledgeUpdate{
		Question: question,
		Answer:   answer,
	})
}

// SetEmbedding stores the embedding vector for a point.
func (s *Service) SetEmbedding(ctx context.Context, userID, id string, embedding []float32) error {
	_, err := s.store.UpdatePoint(ctx, userID, id, store.KnowledgeUpdate{Embedding: embedding})
	return err
}

// Delete removes a knowledge point and its schedules.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.DeletePoint(ctx, userID, id)
}

// ListDueReviews returns the user's incomplete schedules due today or
// earlier, joined with their question/answer.
func (s *Service) ListDueReviews(ctx context.Context, userID string) ([]*store.DueReview, error) {
	today := s.now().UTC().Format(time.DateOnly)
	return s.store.ListDueReviews(ctx, userID, today)
}

// CompleteReview marks one schedule completed with the given recall text.
func (s *Service) CompleteReview(ctx context.Context, userID, scheduleID, recallText string) error {
	return s.store.CompleteReview(ctx, userID, scheduleID, recallText, s.now())
}

// MarkAsReviewed completes the earliest incomplete schedule of a point.
// Schedules are ordered by review number so the choice is deterministic.
// Returns the completed schedule ID, ErrNoIncompleteReview when everything
// is already done, or store.ErrNotFound for an unknown point.
func (s *Service) MarkAsReviewed(ctx context.Context, userID, pointID, recallText string) (string, error) {
	point, err := s.store.GetPoint(ctx, userID, pointID)
	if err != nil {
		return "", err
	}

	schedules := append([]*store.ReviewSchedule(nil), point.Schedules...)
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].ReviewNumber < schedules[j].ReviewNumber
	})

	for _, sched := range schedules {
		if !sched.Completed {
			if err := s.store.CompleteReview(ctx, userID, sched.ID, recallText, s.now()); err != nil {
				return "", err
			}
			s.logger.Debug("review completed",
				"point_id", pointID,
				"schedule_id", sched.ID,
				"review_number", sched.ReviewNumber)
			return sched.ID, nil
		}
	}
	return "", ErrNoIncompleteReview
}
