package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"trackflow/internal/apperr"
)

// createTestUser inserts a user and returns their ID
func createTestUser(t *testing.T, db *DB, email string) string {
	t.Helper()
	u := &User{
		Name:                    strings.Split(email, "@")[0],
		Email:                   email,
		PasswordHash:            "$2a$04$fakehashfortest",
		NotificationPreferences: DefaultNotificationPreferences(),
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return u.ID
}

func TestGenerateAPIKey(t *testing.T) {
	key, keyHash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(key, "tf_") {
		t.Errorf("Expected key to start with tf_, got %q", key)
	}
	if keyHash != HashAPIKey(key) {
		t.Error("Expected keyHash to equal HashAPIKey(key)")
	}
	if !strings.HasPrefix(key, prefix) || len(prefix) != 11 {
		t.Errorf("Expected 11-char prefix of key, got %q", prefix)
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, _, _, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		if seen[key] {
			t.Fatalf("Duplicate key generated: %s", key)
		}
		seen[key] = true
	}
}

func TestCreateAPIKey(t *testing.T) {
	db := newTestDB(t)
	userID := createTestUser(t, db, "test@example.com")
	ctx := context.Background()

	result, err := db.CreateAPIKey(ctx, userID, "CI key", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if result.ID == "" || result.Key == "" {
		t.Fatal("Expected ID and secret to be set")
	}
	if result.UserID != userID {
		t.Errorf("Expected user %s, got %s", userID, result.UserID)
	}
	if result.ExpiresAt != nil {
		t.Error("Expected no expiry")
	}
}

func TestGetAPIKeysByUserID_IsolatedByUser(t *testing.T) {
	db := newTestDB(t)
	user1 := createTestUser(t, db, "one@example.com")
	user2 := createTestUser(t, db, "two@example.com")
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		if _, err := db.CreateAPIKey(ctx, user1, name, nil); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := db.GetAPIKeysByUserID(ctx, user1)
	if err != nil {
		t.Fatalf("GetAPIKeysByUserID failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys for user1, got %d", len(keys))
	}

	keys, err = db.GetAPIKeysByUserID(ctx, user2)
	if err != nil {
		t.Fatalf("GetAPIKeysByUserID failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected 0 keys for user2, got %d", len(keys))
	}
}

func TestValidateAPIKey(t *testing.T) {
	db := newTestDB(t)
	userID := createTestUser(t, db, "test@example.com")
	ctx := context.Background()

	result, err := db.CreateAPIKey(ctx, userID, "Test Key", nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.ValidateAPIKey(ctx, result.Key)
	if err != nil {
		t.Fatalf("ValidateAPIKey failed: %v", err)
	}
	if got != userID {
		t.Errorf("Expected user %s, got %s", userID, got)
	}

	keys, err := db.GetAPIKeysByUserID(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if keys[0].LastUsedAt == nil {
		t.Error("Expected last_used_at to be set after validation")
	}
}

func TestValidateAPIKey_InvalidAndExpired(t *testing.T) {
	db := newTestDB(t)
	userID := createTestUser(t, db, "test@example.com")
	ctx := context.Background()

	if _, err := db.ValidateAPIKey(ctx, "invalid-key"); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("Expected unauthorized for unknown key, got %v", err)
	}

	past := time.Now().Add(-time.Hour)
	result, err := db.CreateAPIKey(ctx, userID, "Expired Key", &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetUserByAPIKey(ctx, result.Key); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("Expected unauthorized for expired key, got %v", err)
	}
}

func TestDeleteAPIKey_WrongUser(t *testing.T) {
	db := newTestDB(t)
	user1 := createTestUser(t, db, "one@example.com")
	user2 := createTestUser(t, db, "two@example.com")
	ctx := context.Background()

	result, err := db.CreateAPIKey(ctx, user1, "Key", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteAPIKey(ctx, result.ID, user2); !apperr.IsNotFound(err) {
		t.Errorf("Expected not found when deleting another user's key, got %v", err)
	}
	if err := db.DeleteAPIKey(ctx, result.ID, user1); err != nil {
		t.Fatalf("DeleteAPIKey failed: %v", err)
	}
	if _, err := db.ValidateAPIKey(ctx, result.Key); err == nil {
		t.Error("Expected deleted key to be rejected")
	}
}

func TestGetUserByAPIKey(t *testing.T) {
	db := newTestDB(t)
	userID := createTestUser(t, db, "test@example.com")
	ctx := context.Background()

	result, err := db.CreateAPIKey(ctx, userID, "Test Key", nil)
	if err != nil {
		t.Fatal(err)
	}

	user, err := db.GetUserByAPIKey(ctx, result.Key)
	if err != nil {
		t.Fatalf("GetUserByAPIKey failed: %v", err)
	}
	if user.ID != userID || user.Email != "test@example.com" {
		t.Errorf("Unexpected user %+v", user)
	}
}
