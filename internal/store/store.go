// ABOUTME: Store interface and data types for learn-assistant persistence
// ABOUTME: Defines User, APIKey, KnowledgePoint, ReviewSchedule and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
// or is not visible to the requesting user.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when signing up with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// User represents a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// APIKey represents an MCP access credential owned by a user.
// The full key is stored alongside an indexed prefix so verification can
// look up candidates by prefix and match the full key in memory, avoiding
// query-encoding issues with arbitrary key characters.
type APIKey struct {
	ID         string
	UserID     string
	KeyName    string
	Key        string
	Prefix     string
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// KnowledgePoint represents a single question/answer pair in a user's
// knowledge base. Embedding is nil until vectorization has run.
type KnowledgePoint struct {
	ID        string
	UserID    string
	Question  string
	Answer    string
	Embedding []float32
	InPlan    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewSchedule represents one scheduled review of a knowledge point.
// ReviewDate is a calendar date in YYYY-MM-DD form.
type ReviewSchedule struct {
	ID               string
	KnowledgePointID string
	UserID           string
	ReviewNumber     int
	ReviewDate       string
	Completed        bool
	CompletedAt      *time.Time
	RecallText       string
}

// PointWithSchedules is a knowledge point joined with its review schedules,
// ordered by review number ascending.
type PointWithSchedules struct {
	KnowledgePoint
	Schedules []*ReviewSchedule
}

// DueReview is an incomplete schedule joined with its knowledge point,
// used for the daily review list.
type DueReview struct {
	ReviewSchedule
	Question string
	Answer   string
}

// KnowledgeUpdate describes a partial update. Nil fields keep the prior value.
type KnowledgeUpdate struct {
	Question  *string
	Answer    *string
	Embedding []float32
}

// Store defines the interface for learn-assistant persistence.
// Every knowledge and schedule operation is scoped by userID; rows owned by
// other users are reported as ErrNotFound, never as a permission error.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *APIKey) error
	ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error)
	RenameAPIKey(ctx context.Context, userID, id, keyName string) error
	DeleteAPIKey(ctx context.Context, userID, id string) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Knowledge points. CreatePoint inserts the point and its schedules in
	// one transaction; DeletePoint removes the point and its schedules.
	CreatePoint(ctx context.Context, point *KnowledgePoint, schedules []*ReviewSchedule) error
	GetPoint(ctx context.Context, userID, id string) (*PointWithSchedules, error)
	ListPoints(ctx context.Context, userID string) ([]*PointWithSchedules, error)
	UpdatePoint(ctx context.Context, userID, id string, update KnowledgeUpdate) (*KnowledgePoint, error)
	DeletePoint(ctx context.Context, userID, id string) error
	ListPointsWithEmbeddings(ctx context.Context, userID string) ([]*KnowledgePoint, error)

	// Review schedules
	ListDueReviews(ctx context.Context, userID, today string) ([]*DueReview, error)
	CompleteReview(ctx context.Context, userID, scheduleID, recallText string, completedAt time.Time) error

	// Close releases any resources held by the store
	Close() error
}
