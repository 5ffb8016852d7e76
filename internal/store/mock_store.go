// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and records call counts for spy assertions

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// Calls counts every Store method invocation so tests can assert that
// validation failures never reach the store.
type MockStore struct {
	mu        sync.RWMutex
	users     map[string]*User
	emails    map[string]string // email -> user ID
	keys      map[string]*APIKey
	points    map[string]*KnowledgePoint
	schedules map[string]*ReviewSchedule

	Calls int

	// FailNext, when non-nil, is returned by the next mutating call.
	FailNext error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:     make(map[string]*User),
		emails:    make(map[string]string),
		keys:      make(map[string]*APIKey),
		points:    make(map[string]*KnowledgePoint),
		schedules: make(map[string]*ReviewSchedule),
	}
}

func (m *MockStore) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, exists := m.emails[user.Email]; exists {
		return ErrDuplicateEmail
	}
	u := *user
	m.users[u.ID] = &u
	m.emails[u.Email] = u.ID
	return nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	id, ok := m.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

// CreateAPIKey stores a new API key.
func (m *MockStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	k := *key
	m.keys[k.ID] = &k
	return nil
}

// ListAPIKeysByPrefix returns keys matching the prefix.
func (m *MockStore) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	var result []*APIKey
	for _, k := range m.keys {
		if k.Prefix == prefix {
			copied := *k
			result = append(result, &copied)
		}
	}
	return result, nil
}

// ListAPIKeys returns the user's keys, newest first.
func (m *MockStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	var result []*APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			copied := *k
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// RenameAPIKey updates a key name.
func (m *MockStore) RenameAPIKey(ctx context.Context, userID, id, keyName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	k, ok := m.keys[id]
	if !ok || k.UserID != userID {
		return ErrNotFound
	}
	k.KeyName = keyName
	return nil
}

// DeleteAPIKey removes a key.
func (m *MockStore) DeleteAPIKey(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	k, ok := m.keys[id]
	if !ok || k.UserID != userID {
		return ErrNotFound
	}
	delete(m.keys, id)
	return nil
}

// TouchAPIKey records last use.
func (m *MockStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	if k, ok := m.keys[id]; ok {
		t := usedAt
		k.LastUsedAt = &t
	}
	return nil
}

// CreatePoint stores a point and its schedules.
func (m *MockStore) CreatePoint(ctx context.Context, point *KnowledgePoint, schedules []*ReviewSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	p := *point
	m.points[p.ID] = &p
	for _, sched := range schedules {
		s := *sched
		m.schedules[s.ID] = &s
	}
	return nil
}

// GetPoint retrieves a point with schedules, scoped by user.
func (m *MockStore) GetPoint(ctx context.Context, userID, id string) (*PointWithSchedules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	p, ok := m.points[id]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	return &PointWithSchedules{KnowledgePoint: *p, Schedules: m.schedulesForPoint(id)}, nil
}

// ListPoints returns the user's points with schedules, newest first.
func (m *MockStore) ListPoints(ctx context.Context, userID string) ([]*PointWithSchedules, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	var result []*PointWithSchedules
	for _, p := range m.points {
		if p.UserID == userID {
			result = append(result, &PointWithSchedules{KnowledgePoint: *p, Schedules: m.schedulesForPoint(p.ID)})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListPointsWithEmbeddings returns points that have embeddings.
func (m *MockStore) ListPointsWithEmbeddings(ctx context.Context, userID string) ([]*KnowledgePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	var result []*KnowledgePoint
	for _, p := range m.points {
		if p.UserID == userID && p.Embedding != nil {
			copied := *p
			result = append(result, &copied)
		}
	}
	return result, nil
}

// UpdatePoint applies a partial update.
func (m *MockStore) UpdatePoint(ctx context.Context, userID, id string, update KnowledgeUpdate) (*KnowledgePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	p, ok := m.points[id]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	if update.Question != nil {
		p.Question = *update.Question
	}
	if update.Answer != nil {
		p.Answer = *update.Answer
	}
	if update.Embedding != nil {
		p.Embedding = update.Embedding
	}
	p.UpdatedAt = time.Now().UTC()
	copied := *p
	return &copied, nil
}

// DeletePoint removes a point and its schedules.
func (m *MockStore) DeletePoint(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	p, ok := m.points[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	delete(m.points, id)
	for sid, sched := range m.schedules {
		if sched.KnowledgePointID == id {
			delete(m.schedules, sid)
		}
	}
	return nil
}

// ListDueReviews returns incomplete schedules due by the given date.
func (m *MockStore) ListDueReviews(ctx context.Context, userID, today string) ([]*DueReview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.Calls++
	var result []*DueReview
	for _, sched := range m.schedules {
		if sched.UserID != userID || sched.Completed || sched.ReviewDate > today {
			continue
		}
		point, ok := m.points[sched.KnowledgePointID]
		if !ok {
			continue
		}
		result = append(result, &DueReview{
			ReviewSchedule: *sched,
			Question:       point.Question,
			Answer:         point.Answer,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReviewDate < result[j].ReviewDate
	})
	return result, nil
}

// CompleteReview marks a schedule completed.
func (m *MockStore) CompleteReview(ctx context.Context, userID, scheduleID, recallText string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.takeFailure(); err != nil {
		return err
	}
	sched, ok := m.schedules[scheduleID]
	if !ok || sched.UserID != userID {
		return ErrNotFound
	}
	sched.Completed = true
	t := completedAt
	sched.CompletedAt = &t
	sched.RecallText = recallText
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) schedulesForPoint(pointID string) []*ReviewSchedule {
	var result []*ReviewSchedule
	for _, sched := range m.schedules {
		if sched.KnowledgePointID == pointID {
			copied := *sched
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReviewNumber < result[j].ReviewNumber
	})
	return result
}
