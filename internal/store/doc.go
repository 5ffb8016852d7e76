// Package store provides persistent storage for learn-assistant using SQLite.
//
// # Data Models
//
//   - User: Registered account with bcrypt password hash
//   - APIKey: MCP access credential with an indexed prefix for lookup
//   - KnowledgePoint: Question/answer pair, optionally with an embedding vector
//   - ReviewSchedule: One scheduled review of a knowledge point
//
// # Ownership
//
// Every knowledge and schedule operation takes an explicit userID and applies
// it as an equality filter. Rows belonging to other users surface as
// ErrNotFound, never as a permission error, so callers cannot probe for the
// existence of other users' data. There is no code path that reaches a
// knowledge row without the user filter.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Embeddings are stored as JSON float arrays in a TEXT column; similarity
// ranking happens in the chat package, not in SQL.
//
// # Testing
//
// Use NewMockStore() for unit tests; it also counts Store calls so handler
// tests can assert that validation failures never touch the store. Use
// NewSQLiteStore with a t.TempDir() path for integration tests.
package store
