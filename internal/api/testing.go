package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"trackflow/internal/auth"
	"trackflow/internal/config"
	"trackflow/internal/db"
	"trackflow/internal/storage"
)

// TestServer holds test server dependencies
type TestServer struct {
	*Server
	DB      *db.DB
	Handler http.Handler
}

// NewTestServer creates a new test server with in-memory SQLite database
// and an upload store under t.TempDir.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	// Use fast bcrypt for tests (MinCost=4 vs production Cost=12)
	auth.SetBcryptCost(bcrypt.MinCost)

	logger := zaptest.NewLogger(t)

	database, err := db.New(db.Config{
		DBPath:         ":memory:",
		MigrationsPath: "./../../internal/db/migrations",
	}, logger)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	testCfg := &config.Config{
		Env:            "test",
		BaseURL:        "http://localhost:5173",
		JWTSecret:      "test-secret-key",
		JWTExpiryHours: 24,
		HolidayCountry: "US",
	}

	store, err := storage.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Failed to create upload store: %v", err)
	}

	server := NewServer(database, testCfg, logger)
	server.SetStorage(store)

	return &TestServer{
		Server:  server,
		DB:      database,
		Handler: server.Routes(),
	}
}

// Close cleans up test server resources
func (ts *TestServer) Close() {
	if ts.DB != nil {
		ts.DB.Close()
	}
}

// CreateTestUser creates a member account with the given credentials
func (ts *TestServer) CreateTestUser(t *testing.T, email, password string) *db.User {
	t.Helper()
	return ts.createUser(t, email, password, db.RoleMember)
}

// CreateTestAdmin creates an admin account
func (ts *TestServer) CreateTestAdmin(t *testing.T, email string) *db.User {
	t.Helper()
	return ts.createUser(t, email, "password123", db.RoleAdmin)
}

func (ts *TestServer) createUser(t *testing.T, email, password, role string) *db.User {
	t.Helper()

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name, _, _ := strings.Cut(email, "@")
	user := &db.User{
		Name:                    name,
		Email:                   email,
		PasswordHash:            hashedPassword,
		Role:                    role,
		NotificationPreferences: db.DefaultNotificationPreferences(),
	}
	if err := ts.DB.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// GenerateTestToken generates a JWT token for testing
func (ts *TestServer) GenerateTestToken(t *testing.T, user *db.User) string {
	t.Helper()

	token, err := ts.auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// CreateTestProject creates a project owned by owner
func (ts *TestServer) CreateTestProject(t *testing.T, owner *db.User, title string, members ...string) *db.Project {
	t.Helper()

	p := &db.Project{Title: title, OwnerID: owner.ID, Members: members}
	if err := ts.DB.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return p
}

// CreateTestTask creates a todo task in project assigned to its creator
func (ts *TestServer) CreateTestTask(t *testing.T, project *db.Project, creator *db.User, title string) *db.Task {
	t.Helper()

	task := &db.Task{
		Title:      title,
		ProjectID:  project.ID,
		CreatorID:  creator.ID,
		AssigneeID: creator.ID,
		Status:     db.TaskTodo,
	}
	if err := ts.DB.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}
	return task
}

// Do sends a request through the full router, authenticated as user when
// user is non-nil.
func (ts *TestServer) Do(t *testing.T, method, path string, body any, user *db.User) *httptest.ResponseRecorder {
	t.Helper()

	rec, req := MakeRequest(t, method, path, body, nil)
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+ts.GenerateTestToken(t, user))
	}
	ts.Handler.ServeHTTP(rec, req)
	return rec
}

// MakeRequest creates an HTTP request for testing
func MakeRequest(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return httptest.NewRecorder(), req
}

// MakeAuthRequest creates a request with the user in its context and the
// given chi URL params, for calling handlers directly.
func (ts *TestServer) MakeAuthRequest(t *testing.T, method, path string, body any, user *db.User, urlParams map[string]string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()

	rec, req := MakeRequest(t, method, path, body, nil)

	ctx := withUser(req.Context(), user)
	if len(urlParams) > 0 {
		rctx := chi.NewRouteContext()
		for key, value := range urlParams {
			rctx.URLParams.Add(key, value)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}

	return rec, req.WithContext(ctx)
}

// DecodeJSON decodes JSON response body
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v\nBody: %s", err, rec.Body.String())
	}
}

// AssertStatusCode checks if the response has the expected status code
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("Expected status code %d, got %d", want, got)
	}
}

// AssertJSONField checks if a JSON field has the expected value
func AssertJSONField(t *testing.T, data map[string]any, field string, want any) {
	t.Helper()

	got, ok := data[field]
	if !ok {
		t.Errorf("Field %q not found in response", field)
		return
	}

	if got != want {
		t.Errorf("Field %q: expected %v, got %v", field, want, got)
	}
}

// AssertError checks if the response contains an error with expected message
func AssertError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantError string, wantCode string) {
	t.Helper()

	AssertStatusCode(t, rec.Code, wantStatus)

	var errResp ErrorResponse
	DecodeJSON(t, rec, &errResp)

	if wantError != "" && !strings.Contains(errResp.Error, wantError) {
		t.Errorf("Expected error to contain %q, got %q", wantError, errResp.Error)
	}

	if wantCode != "" && errResp.Code != wantCode {
		t.Errorf("Expected error code %q, got %q", wantCode, errResp.Code)
	}
}

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}
