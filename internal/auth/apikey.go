// ABOUTME: API key generation and verification for MCP access
// ABOUTME: Keys are matched by indexed prefix lookup then full comparison in memory

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrYang2016/learn-assistant/internal/store"
)

const (
	// keyPrefixStart and keyPrefixEnd bound the indexed prefix: the 8
	// characters following the "sk_" marker.
	keyPrefixStart = 3
	keyPrefixEnd   = 11
)

// GenerateAPIKey returns a fresh key in the form sk_<base64url of 32 random bytes>.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// KeyPrefix extracts the indexed prefix from a raw key. Returns an empty
// string for keys too short to carry one.
func KeyPrefix(rawKey string) string {
	if len(rawKey) < keyPrefixEnd {
		return ""
	}
	return rawKey[keyPrefixStart:keyPrefixEnd]
}

// APIKeyAuthenticator verifies raw API keys against the store.
type APIKeyAuthenticator struct {
	store  store.Store
	logger *slog.Logger
}

// NewAPIKeyAuthenticator creates an authenticator backed by the given store.
// Pass nil logger for default.
func NewAPIKeyAuthenticator(s store.Store, logger *slog.Logger) *APIKeyAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyAuthenticator{
		store:  s,
		logger: logger.With("component", "apikey"),
	}
}

// Verify checks a raw key and returns the owning identity, or nil if the key
// is unknown, malformed, or expired. A nil error with nil identity means the
// key was rejected; a non-nil error means the store itself failed.
//
// Candidates are fetched by prefix and the full key is compared in memory,
// which sidesteps query encoding of arbitrary key characters and keeps the
// lookup on the prefix index. On success the key's last-used timestamp is
// updated in the background; that update is best-effort and never fails the
// verification.
func (a *APIKeyAuthenticator) Verify(ctx context.Context, rawKey string) (*Identity, error) {
	prefix := KeyPrefix(rawKey)
	if prefix == "" || !strings.HasPrefix(rawKey, "sk_") {
		return nil, nil
	}

	candidates, err := a.store.ListAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	var matched *store.APIKey
	for _, candidate := range candidates {
		if candidate.Key == rawKey {
			matched = candidate
			break
		}
	}
	if matched == nil {
		a.logger.Debug("no api key matched prefix", "prefix", prefix, "candidates", len(candidates))
		return nil, nil
	}

	if matched.ExpiresAt != nil && matched.ExpiresAt.Before(time.Now()) {
		a.logger.Debug("api key expired", "key_id", matched.ID)
		return nil, nil
	}

	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchAPIKey(ctx, id, time.Now()); err != nil {
			a.logger.Warn("failed to update key last_used_at", "key_id", id, "error", err)
		}
	}(matched.ID)

	return &Identity{UserID: matched.UserID, APIKeyID: matched.ID}, nil
}

// CreateAPIKey generates and persists a new key for the user.
// Returns the stored record; the raw key is only available in the returned
// record's Key field at creation time.
func CreateAPIKey(ctx context.Context, s store.Store, userID, keyName string, expiresAt *time.Time) (*store.APIKey, error) {
	plainKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := &store.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		KeyName:   keyName,
		Key:       plainKey,
		Prefix:    KeyPrefix(plainKey),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("storing api key: %w", err)
	}
	return key, nil
}
