package db

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// APIKey represents an API key for user authentication
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user"`
	Name       string     `db:"name" json:"name"`
	KeyHash    string     `db:"key_hash" json:"-"`
	KeyPrefix  string     `db:"key_prefix" json:"keyPrefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

var apiKeyColumns = []string{
	"id", "user_id", "name", "key_hash", "key_prefix", "last_used_at", "expires_at", "created_at",
}

// APIKeyWithSecret includes the full key (only returned on creation)
type APIKeyWithSecret struct {
	APIKey
	Key string `json:"key"`
}

// GenerateAPIKey creates a new API key with a cryptographically secure random value
func GenerateAPIKey() (key, keyHash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = "tf_" + base64.RawURLEncoding.EncodeToString(b)
	keyHash = HashAPIKey(key)
	// Prefix for display
	prefix = key[:11]

	return key, keyHash, prefix, nil
}

// HashAPIKey creates a hash of an API key for comparison
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return base64.URLEncoding.EncodeToString(hash[:])
}

// CreateAPIKey creates a new API key for a user
func (q *Queries) CreateAPIKey(ctx context.Context, userID, name string, expiresAt *time.Time) (*APIKeyWithSecret, error) {
	key, keyHash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	k := APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: prefix,
		ExpiresAt: utcPtr(expiresAt),
		CreatedAt: now(),
	}
	_, err = q.exec(ctx, q.sb.Insert("api_keys").
		Columns(apiKeyColumns...).
		Values(k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.LastUsedAt, k.ExpiresAt, k.CreatedAt),
		"API key")
	if err != nil {
		return nil, err
	}
	return &APIKeyWithSecret{APIKey: k, Key: key}, nil
}

// GetAPIKeysByUserID retrieves all API keys for a user, newest first
func (q *Queries) GetAPIKeysByUserID(ctx context.Context, userID string) ([]APIKey, error) {
	keys := []APIKey{}
	err := q.list(ctx, &keys, q.sb.Select(apiKeyColumns...).
		From(q.table("api_keys")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at")), "API key")
	return keys, err
}

// ValidateAPIKey checks that a key exists and has not expired, records its
// use and returns the owning user ID.
func (q *Queries) ValidateAPIKey(ctx context.Context, key string) (string, error) {
	var k APIKey
	err := q.get(ctx, &k, q.sb.Select(apiKeyColumns...).
		From(q.table("api_keys")).
		Where(entsql.EQ("key_hash", HashAPIKey(key))), "API key")
	if apperr.IsNotFound(err) {
		return "", apperr.New(apperr.KindUnauthorized, "invalid API key")
	}
	if err != nil {
		return "", err
	}

	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return "", apperr.New(apperr.KindUnauthorized, "API key expired")
	}

	// Usage tracking must not reject an otherwise valid key
	_, _ = q.exec(ctx, q.sb.Update("api_keys").
		Set("last_used_at", now()).
		Where(entsql.EQ("id", k.ID)), "API key")

	return k.UserID, nil
}

// DeleteAPIKey removes one of userID's API keys
func (q *Queries) DeleteAPIKey(ctx context.Context, keyID, userID string) error {
	err := q.execOne(ctx, q.sb.Delete("api_keys").
		Where(entsql.And(entsql.EQ("id", keyID), entsql.EQ("user_id", userID))), "API key")
	if apperr.IsNotFound(err) {
		return apperr.NotFound("API key not found or access denied")
	}
	return err
}

// GetUserByAPIKey resolves an API key to its user.
func (q *Queries) GetUserByAPIKey(ctx context.Context, key string) (*User, error) {
	userID, err := q.ValidateAPIKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return q.GetUserByID(ctx, userID)
}
