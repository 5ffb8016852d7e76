// ABOUTME: Tests for the knowledge service
// ABOUTME: Covers schedule creation offsets, partial updates, and deterministic mark-as-reviewed

package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrYang2016/learn-assistant/internal/store"
)

func setupService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	svc := NewService(mock, nil)
	return svc, mock
}

func TestCreate_SchedulesAtFixedOffsets(t *testing.T) {
	svc, mock := setupService(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	ctx := context.Background()

	point, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)
	assert.Equal(t, "user-1", point.UserID)
	assert.True(t, point.InPlan)

	got, err := mock.GetPoint(ctx, "user-1", point.ID)
	require.NoError(t, err)
	require.Len(t, got.Schedules, 4)

	wantDates := []string{"2026-03-02", "2026-03-08", "2026-03-17", "2026-04-05"}
	for i, sched := range got.Schedules {
		assert.Equal(t, i+1, sched.ReviewNumber)
		assert.Equal(t, wantDates[i], sched.ReviewDate)
		assert.False(t, sched.Completed)
	}
}

func TestCreate_AtomicOnScheduleFailure(t *testing.T) {
	svc, mock := setupService(t)
	ctx := context.Background()

	mock.FailNext = assert.AnError
	_, err := svc.Create(ctx, "user-1", "Q", "A")
	require.Error(t, err)

	points, err := mock.ListPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestUpdate_PartialKeepsUnspecified(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	point, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)

	newAnswer := "A2"
	updated, err := svc.Update(ctx, "user-1", point.ID, nil, &newAnswer)
	require.NoError(t, err)
	assert.Equal(t, "Q", updated.Question)
	assert.Equal(t, "A2", updated.Answer)
}

func TestGet_CrossUserIsNotFound(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	point, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "user-2", point.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkAsReviewed_LowestIncompleteFirst(t *testing.T) {
	svc, mock := setupService(t)
	ctx := context.Background()

	point, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)

	// Complete review 1 out of band; 2 must be chosen next, not 3 or 4.
	got, err := mock.GetPoint(ctx, "user-1", point.ID)
	require.NoError(t, err)
	require.NoError(t, mock.CompleteReview(ctx, "user-1", got.Schedules[0].ID, "", time.Now()))

	completedID, err := svc.MarkAsReviewed(ctx, "user-1", point.ID, "remembered")
	require.NoError(t, err)
	assert.Equal(t, got.Schedules[1].ID, completedID)

	after, err := mock.GetPoint(ctx, "user-1", point.ID)
	require.NoError(t, err)
	assert.True(t, after.Schedules[1].Completed)
	assert.Equal(t, "remembered", after.Schedules[1].RecallText)
	assert.False(t, after.Schedules[2].Completed)
	assert.False(t, after.Schedules[3].Completed)
}

func TestMarkAsReviewed_AllComplete(t *testing.T) {
	svc, mock := setupService(t)
	ctx := context.Background()

	point, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)

	got, err := mock.GetPoint(ctx, "user-1", point.ID)
	require.NoError(t, err)
	for _, sched := range got.Schedules {
		require.NoError(t, mock.CompleteReview(ctx, "user-1", sched.ID, "", time.Now()))
	}

	_, err = svc.MarkAsReviewed(ctx, "user-1", point.ID, "")
	assert.ErrorIs(t, err, ErrNoIncompleteReview)
}

func TestMarkAsReviewed_UnknownPoint(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.MarkAsReviewed(context.Background(), "user-1", "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListDueReviews_UsesToday(t *testing.T) {
	svc, _ := setupService(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	ctx := context.Background()

	_, err := svc.Create(ctx, "user-1", "Q", "A")
	require.NoError(t, err)

	// Nothing due on creation day; first review lands the next day.
	due, err := svc.ListDueReviews(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, due)

	svc.now = func() time.Time { return base.AddDate(0, 0, 1) }
	due, err = svc.ListDueReviews(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].ReviewNumber)
	assert.Equal(t, "Q", due[0].Question)
}
