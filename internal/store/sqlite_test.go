// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers user/key/knowledge CRUD, ownership scoping, and transactional deletes

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func seedUser(t *testing.T, s Store, id, email string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &User{
		ID:           id,
		Email:        email,
		PasswordHash: "x",
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestStore_CreateUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "a@example.com")

	user, err := store.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	err = store.CreateUser(ctx, &User{ID: "user-2", Email: "a@example.com", PasswordHash: "y", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_APIKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "a@example.com")

	key := &APIKey{
		ID:        "key-1",
		UserID:    "user-1",
		KeyName:   "laptop",
		Key:       "sk_abcdefgh12345678",
		Prefix:    "abcdefgh",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateAPIKey(ctx, key))

	t.Run("prefix lookup returns candidates", func(t *testing.T) {
		keys, err := store.ListAPIKeysByPrefix(ctx, "abcdefgh")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "sk_abcdefgh12345678", keys[0].Key)
	})

	t.Run("prefix lookup misses other prefixes", func(t *testing.T) {
		keys, err := store.ListAPIKeysByPrefix(ctx, "zzzzzzzz")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("touch records last use", func(t *testing.T) {
		usedAt := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, store.TouchAPIKey(ctx, "key-1", usedAt))

		keys, err := store.ListAPIKeys(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		require.NotNil(t, keys[0].LastUsedAt)
		assert.Equal(t, usedAt, *keys[0].LastUsedAt)
	})

	t.Run("rename scoped to owner", func(t *testing.T) {
		err := store.RenameAPIKey(ctx, "other-user", "key-1", "stolen")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.RenameAPIKey(ctx, "user-1", "key-1", "desktop"))
	})

	t.Run("delete scoped to owner", func(t *testing.T) {
		err := store.DeleteAPIKey(ctx, "other-user", "key-1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.DeleteAPIKey(ctx, "user-1", "key-1"))
		keys, err := store.ListAPIKeys(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func seedPoint(t *testing.T, s Store, userID, pointID string) {
	t.Helper()
	now := time.Now().UTC()
	point := &KnowledgePoint{
		ID:        pointID,
		UserID:    userID,
		Question:  "What is active recall?",
		Answer:    "Retrieving information from memory to strengthen it.",
		InPlan:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	schedules := []*ReviewSchedule{
		{ID: pointID + "-s1", KnowledgePointID: pointID, UserID: userID, ReviewNumber: 1, ReviewDate: "2026-01-02"},
		{ID: pointID + "-s2", KnowledgePointID: pointID, UserID: userID, ReviewNumber: 2, ReviewDate: "2026-01-08"},
	}
	require.NoError(t, s.CreatePoint(context.Background(), point, schedules))
}

func TestStore_KnowledgePoints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "a@example.com")
	seedUser(t, store, "user-2", "b@example.com")
	seedPoint(t, store, "user-1", "point-1")

	t.Run("get returns point with ordered schedules", func(t *testing.T) {
		got, err := store.GetPoint(ctx, "user-1", "point-1")
		require.NoError(t, err)
		assert.Equal(t, "What is active recall?", got.Question)
		require.Len(t, got.Schedules, 2)
		assert.Equal(t, 1, got.Schedules[0].ReviewNumber)
		assert.Equal(t, 2, got.Schedules[1].ReviewNumber)
	})

	t.Run("cross-user access is not found", func(t *testing.T) {
		_, err := store.GetPoint(ctx, "user-2", "point-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("partial update keeps unspecified fields", func(t *testing.T) {
		q := "What is spaced repetition?"
		updated, err := store.UpdatePoint(ctx, "user-1", "point-1", KnowledgeUpdate{Question: &q})
		require.NoError(t, err)
		assert.Equal(t, q, updated.Question)
		assert.Equal(t, "Retrieving information from memory to strengthen it.", updated.Answer)
	})

	t.Run("embedding round-trips", func(t *testing.T) {
		embedding := []float32{0.25, -0.5, 1}
		_, err := store.UpdatePoint(ctx, "user-1", "point-1", KnowledgeUpdate{Embedding: embedding})
		require.NoError(t, err)

		points, err := store.ListPointsWithEmbeddings(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, embedding, points[0].Embedding)
	})

	t.Run("delete removes schedules", func(t *testing.T) {
		require.NoError(t, store.DeletePoint(ctx, "user-1", "point-1"))

		_, err := store.GetPoint(ctx, "user-1", "point-1")
		assert.ErrorIs(t, err, ErrNotFound)

		reviews, err := store.ListDueReviews(ctx, "user-1", "2099-01-01")
		require.NoError(t, err)
		assert.Empty(t, reviews)
	})
}

func TestStore_ListPoints_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "a@example.com")

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	require.NoError(t, store.CreatePoint(ctx, &KnowledgePoint{
		ID: "point-old", UserID: "user-1", Question: "q1", Answer: "a1",
		CreatedAt: older, UpdatedAt: older,
	}, nil))
	require.NoError(t, store.CreatePoint(ctx, &KnowledgePoint{
		ID: "point-new", UserID: "user-1", Question: "q2", Answer: "a2",
		CreatedAt: newer, UpdatedAt: newer,
	}, nil))

	points, err := store.ListPoints(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "point-new", points[0].ID)
	assert.Equal(t, "point-old", points[1].ID)
}

func TestStore_DueReviews(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1", "a@example.com")
	seedPoint(t, store, "user-1", "point-1")

	t.Run("only schedules due by date", func(t *testing.T) {
		reviews, err := store.ListDueReviews(ctx, "user-1", "2026-01-02")
		require.NoError(t, err)
		require.Len(t, reviews, 1)
		assert.Equal(t, 1, reviews[0].ReviewNumber)
		assert.Equal(t, "What is active recall?", reviews[0].Question)
	})

	t.Run("completed schedules drop out", func(t *testing.T) {
		require.NoError(t, store.CompleteReview(ctx, "user-1", "point-1-s1", "recalled it", time.Now()))

		reviews, err := store.ListDueReviews(ctx, "user-1", "2026-01-02")
		require.NoError(t, err)
		assert.Empty(t, reviews)
	})

	t.Run("complete scoped to owner", func(t *testing.T) {
		err := store.CompleteReview(ctx, "intruder", "point-1-s2", "nope", time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
