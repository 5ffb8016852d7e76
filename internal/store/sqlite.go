// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/key/knowledge persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			key_name     TEXT NOT NULL,
			api_key      TEXT NOT NULL,
			prefix       TEXT NOT NULL,
			last_used_at TEXT,
			expires_at   TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);

		CREATE TABLE IF NOT EXISTS knowledge_points (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			question   TEXT NOT NULL,
			answer     TEXT NOT NULL,
			embedding  TEXT,
			in_plan    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_points_user_created
			ON knowledge_points(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS review_schedules (
			id                 TEXT PRIMARY KEY,
			knowledge_point_id TEXT NOT NULL REFERENCES knowledge_points(id) ON DELETE CASCADE,
			user_id            TEXT NOT NULL,
			review_number      INTEGER NOT NULL,
			review_date        TEXT NOT NULL,
			completed          INTEGER NOT NULL DEFAULT 0,
			completed_at       TEXT,
			recall_text        TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_schedules_point ON review_schedules(knowledge_point_id);
		CREATE INDEX IF NOT EXISTS idx_schedules_due
			ON review_schedules(user_id, completed, review_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// CreateAPIKey inserts a new API key record.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_name, api_key, prefix, last_used_at, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.KeyName, key.Key, key.Prefix,
		nullableTime(key.LastUsedAt), nullableTime(key.ExpiresAt),
		key.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// ListAPIKeysByPrefix returns all key records sharing the given prefix.
// Callers match the full key in memory; the prefix index keeps this cheap.
func (s *SQLiteStore) ListAPIKeysByPrefix(ctx context.Context, prefix string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, key_name, api_key, prefix, last_used_at, expires_at, created_at
		 FROM api_keys WHERE prefix = ?`, prefix)
	if err != nil {
		return nil, fmt.Errorf("querying api keys by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

// ListAPIKeys returns all keys owned by the user, newest first.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, key_name, api_key, prefix, last_used_at, expires_at, created_at
		 FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func scanAPIKeys(rows *sql.Rows) ([]*APIKey, error) {
	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed, expires sql.NullString
		var createdAt string
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyName, &k.Key, &k.Prefix,
			&lastUsed, &expires, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		k.LastUsedAt = parseNullTime(lastUsed)
		k.ExpiresAt = parseNullTime(expires)
		k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// RenameAPIKey updates the display name of a key owned by the user.
func (s *SQLiteStore) RenameAPIKey(ctx context.Context, userID, id, keyName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_name = ? WHERE id = ? AND user_id = ?`, keyName, id, userID)
	if err != nil {
		return fmt.Errorf("renaming api key: %w", err)
	}
	return requireRow(res)
}

// DeleteAPIKey removes a key owned by the user.
func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	return requireRow(res)
}

// TouchAPIKey records the last-used timestamp for a key.
func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		usedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// CreatePoint inserts a knowledge point and its review schedules atomically.
func (s *SQLiteStore) CreatePoint(ctx context.Context, point *KnowledgePoint, schedules []*ReviewSchedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	embedding, err := encodeEmbedding(point.Embedding)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_points (id, user_id, question, answer, embedding, in_plan, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		point.ID, point.UserID, point.Question, point.Answer, embedding,
		boolToInt(point.InPlan),
		point.CreatedAt.UTC().Format(time.RFC3339),
		point.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting knowledge point: %w", err)
	}

	for _, sched := range schedules {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_schedules (id, knowledge_point_id, user_id, review_number, review_date, completed, completed_at, recall_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sched.ID, sched.KnowledgePointID, sched.UserID, sched.ReviewNumber,
			sched.ReviewDate, boolToInt(sched.Completed), nullableTime(sched.CompletedAt), sched.RecallText)
		if err != nil {
			return fmt.Errorf("inserting review schedule %d: %w", sched.ReviewNumber, err)
		}
	}

	return tx.Commit()
}

// GetPoint retrieves a knowledge point with its schedules, scoped to the user.
func (s *SQLiteStore) GetPoint(ctx context.Context, userID, id string) (*PointWithSchedules, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, question, answer, embedding, in_plan, created_at, updated_at
		 FROM knowledge_points WHERE id = ? AND user_id = ?`, id, userID)

	point, err := scanPoint(row)
	if err != nil {
		return nil, err
	}

	schedules, err := s.listSchedules(ctx, point.ID)
	if err != nil {
		return nil, err
	}
	return &PointWithSchedules{KnowledgePoint: *point, Schedules: schedules}, nil
}

// ListPoints returns all of the user's knowledge points with schedules, newest first.
func (s *SQLiteStore) ListPoints(ctx context.Context, userID string) ([]*PointWithSchedules, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, embedding, in_plan, created_at, updated_at
		 FROM knowledge_points WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge points: %w", err)
	}
	defer rows.Close()

	var points []*PointWithSchedules
	for rows.Next() {
		point, err := scanPointRows(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, &PointWithSchedules{KnowledgePoint: *point})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range points {
		schedules, err := s.listSchedules(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Schedules = schedules
	}
	return points, nil
}

// ListPointsWithEmbeddings returns the user's points that have a stored embedding.
func (s *SQLiteStore) ListPointsWithEmbeddings(ctx context.Context, userID string) ([]*KnowledgePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question, answer, embedding, in_plan, created_at, updated_at
		 FROM knowledge_points WHERE user_id = ? AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying embedded points: %w", err)
	}
	defer rows.Close()

	var points []*KnowledgePoint
	for rows.Next() {
		point, err := scanPointRows(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

// UpdatePoint applies a partial update to a point owned by the user.
func (s *SQLiteStore) UpdatePoint(ctx context.Context, userID, id string, update KnowledgeUpdate) (*KnowledgePoint, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}

	if update.Question != nil {
		sets = append(sets, "question = ?")
		args = append(args, *update.Question)
	}
	if update.Answer != nil {
		sets = append(sets, "answer = ?")
		args = append(args, *update.Answer)
	}
	if update.Embedding != nil {
		embedding, err := encodeEmbedding(update.Embedding)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "embedding = ?")
		args = append(args, embedding)
	}
	args = append(args, id, userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_points SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating knowledge point: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, question, answer, embedding, in_plan, created_at, updated_at
		 FROM knowledge_points WHERE id = ? AND user_id = ?`, id, userID)
	return scanPoint(row)
}

// DeletePoint removes a point and its schedules, scoped to the user.
func (s *SQLiteStore) DeletePoint(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Schedules carry ON DELETE CASCADE but are removed explicitly so the
	// delete works against databases created before foreign keys were enforced.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM review_schedules WHERE knowledge_point_id = ? AND user_id = ?`, id, userID); err != nil {
		return fmt.Errorf("deleting review schedules: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_points WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deleting knowledge point: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

// ListDueReviews returns incomplete schedules due on or before the given date,
// joined with their knowledge points, earliest first.
func (s *SQLiteStore) ListDueReviews(ctx context.Context, userID, today string) ([]*DueReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rs.id, rs.knowledge_point_id, rs.user_id, rs.review_number, rs.review_date,
		        rs.completed, rs.completed_at, rs.recall_text, kp.question, kp.answer
		 FROM review_schedules rs
		 JOIN knowledge_points kp ON kp.id = rs.knowledge_point_id
		 WHERE rs.user_id = ? AND rs.completed = 0 AND rs.review_date <= ?
		 ORDER BY rs.review_date ASC`, userID, today)
	if err != nil {
		return nil, fmt.Errorf("querying due reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*DueReview
	for rows.Next() {
		var r DueReview
		var completed int
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.KnowledgePointID, &r.UserID, &r.ReviewNumber, &r.ReviewDate,
			&completed, &completedAt, &r.RecallText, &r.Question, &r.Answer); err != nil {
			return nil, fmt.Errorf("scanning due review: %w", err)
		}
		r.Completed = completed != 0
		r.CompletedAt = parseNullTime(completedAt)
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}

// CompleteReview marks a schedule completed with recall text, scoped to the user.
func (s *SQLiteStore) CompleteReview(ctx context.Context, userID, scheduleID, recallText string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_schedules SET completed = 1, completed_at = ?, recall_text = ?
		 WHERE id = ? AND user_id = ?`,
		completedAt.UTC().Format(time.RFC3339), recallText, scheduleID, userID)
	if err != nil {
		return fmt.Errorf("completing review: %w", err)
	}
	return requireRow(res)
}

// listSchedules returns schedules for a point ordered by review number.
func (s *SQLiteStore) listSchedules(ctx context.Context, pointID string) ([]*ReviewSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, knowledge_point_id, user_id, review_number, review_date, completed, completed_at, recall_text
		 FROM review_schedules WHERE knowledge_point_id = ? ORDER BY review_number ASC`, pointID)
	if err != nil {
		return nil, fmt.Errorf("querying review schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*ReviewSchedule
	for rows.Next() {
		var sched ReviewSchedule
		var completed int
		var completedAt sql.NullString
		if err := rows.Scan(&sched.ID, &sched.KnowledgePointID, &sched.UserID, &sched.ReviewNumber,
			&sched.ReviewDate, &completed, &completedAt, &sched.RecallText); err != nil {
			return nil, fmt.Errorf("scanning review schedule: %w", err)
		}
		sched.Completed = completed != 0
		sched.CompletedAt = parseNullTime(completedAt)
		schedules = append(schedules, &sched)
	}
	return schedules, rows.Err()
}

type pointScanner interface {
	Scan(dest ...any) error
}

func scanPoint(row *sql.Row) (*KnowledgePoint, error) {
	point, err := scanPointFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return point, err
}

func scanPointRows(rows *sql.Rows) (*KnowledgePoint, error) {
	return scanPointFrom(rows)
}

func scanPointFrom(sc pointScanner) (*KnowledgePoint, error) {
	var p KnowledgePoint
	var embedding sql.NullString
	var inPlan int
	var createdAt, updatedAt string
	err := sc.Scan(&p.ID, &p.UserID, &p.Question, &p.Answer, &embedding, &inPlan, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning knowledge point: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &p.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
	}
	p.InPlan = inPlan != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func encodeEmbedding(embedding []float32) (any, error) {
	if embedding == nil {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("encoding embedding: %w", err)
	}
	return string(data), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
