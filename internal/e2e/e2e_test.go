package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"trackflow/internal/api"
	"trackflow/internal/auth"
	"trackflow/internal/config"
	"trackflow/internal/db"
	"trackflow/internal/notify"
	"trackflow/internal/realtime"
	"trackflow/internal/storage"
)

// TestServer is the full API listening on a local port.
type TestServer struct {
	Server  *http.Server
	BaseURL string
	DB      *db.DB
	Client  *http.Client
	cleanup func()
}

// NewTestServer wires the server the way cmd/api does, against an
// in-memory database and a temporary upload directory.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	logger := zaptest.NewLogger(t)
	cfg := config.Default()
	cfg.Env = "test"
	cfg.DBPath = ":memory:"
	cfg.MigrationsPath = "../db/migrations"
	cfg.JWTSecret = "test-secret-key-for-e2e-tests"
	cfg.JWTExpiryHours = 24
	cfg.RateLimitRequests = 0
	cfg.AuthRateLimitRequests = 0

	database, err := db.New(db.Config{DBPath: cfg.DBPath, MigrationsPath: cfg.MigrationsPath}, logger)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	store, err := storage.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Failed to create upload store: %v", err)
	}

	ctx, cancelHub := context.WithCancel(context.Background())

	server := api.NewServer(database, cfg, logger)
	server.SetAuthService(auth.NewService(cfg.JWTSecret, cfg.JWTExpiry()))
	server.SetStorage(store)
	server.SetNotifier(notify.NewService(database, nil, cfg.BaseURL, logger))
	server.SetHub(realtime.NewHub(ctx, logger))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	httpServer := &http.Server{Handler: server.Routes()}
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.Logf("Server error: %v", err)
		}
	}()

	baseURL := "http://" + listener.Addr().String()
	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < 50; i++ {
		resp, err := client.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
		cancelHub()
		database.Close()
	}

	return &TestServer{
		Server:  httpServer,
		BaseURL: baseURL,
		DB:      database,
		Client:  client,
		cleanup: cleanup,
	}
}

// Close stops the server and releases the database
func (ts *TestServer) Close() {
	if ts.cleanup != nil {
		ts.cleanup()
	}
}

// DoRequest makes an HTTP request and returns the response
func (ts *TestServer) DoRequest(method, path string, body any, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, ts.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return ts.Client.Do(req)
}

// ParseJSON parses JSON response
func ParseJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// call runs a request, checks the status and decodes the body into out
// when out is non-nil.
func (ts *TestServer) call(t *testing.T, method, path string, body any, token string, wantStatus int, out any) {
	t.Helper()

	resp, err := ts.DoRequest(method, path, body, token)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	if resp.StatusCode != wantStatus {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, data)
	}
	if out == nil {
		resp.Body.Close()
		return
	}
	if err := ParseJSON(resp, out); err != nil {
		t.Fatalf("%s %s: failed to parse response: %v", method, path, err)
	}
}

// Register creates an account and returns its token and user object
func (ts *TestServer) Register(t *testing.T, name, email, password string) (string, map[string]any) {
	t.Helper()

	var result map[string]any
	ts.call(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, "", http.StatusCreated, &result)

	token, ok := result["token"].(string)
	if !ok || token == "" {
		t.Fatal("No token in register response")
	}
	user, ok := result["user"].(map[string]any)
	if !ok {
		t.Fatal("No user in register response")
	}
	return token, user
}

// Login authenticates a user
func (ts *TestServer) Login(email, password string) (string, map[string]any, error) {
	resp, err := ts.DoRequest(http.MethodPost, "/api/auth/login", map[string]string{
		"email": email, "password": password,
	}, "")
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var result map[string]any
	if err := ParseJSON(resp, &result); err != nil {
		return "", nil, err
	}
	token, ok := result["token"].(string)
	if !ok {
		return "", nil, fmt.Errorf("no token in response")
	}
	return token, result, nil
}

func TestCompleteUserJourney(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	email := fmt.Sprintf("lead-%d@example.com", time.Now().UnixNano())
	password := "TestPassword123!"

	token, user := ts.Register(t, "Lead", email, password)
	userID := user["id"].(string)
	if user["role"] != db.RoleAdmin {
		t.Errorf("Expected the first account to be admin, got %v", user["role"])
	}

	var projectID, taskID string

	t.Run("Login", func(t *testing.T) {
		tok, result, err := ts.Login(email, password)
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if tok == "" {
			t.Fatal("Login did not return token")
		}
		if result["user"].(map[string]any)["email"] != email {
			t.Errorf("Expected email %s, got %v", email, result["user"])
		}
	})

	t.Run("GetCurrentUser", func(t *testing.T) {
		var me map[string]any
		ts.call(t, http.MethodGet, "/api/auth/me", nil, token, http.StatusOK, &me)
		if me["id"] != userID {
			t.Errorf("Expected user %s, got %v", userID, me["id"])
		}
	})

	t.Run("CreateProject", func(t *testing.T) {
		var project map[string]any
		ts.call(t, http.MethodPost, "/api/projects", map[string]any{
			"title": "Launch", "description": "Ship it", "priority": "high",
		}, token, http.StatusCreated, &project)
		projectID = project["id"].(string)
		if project["status"] != db.ProjectNotStarted || project["progress"] != float64(0) {
			t.Errorf("Unexpected new project: %v", project)
		}
	})

	t.Run("CreateTasks", func(t *testing.T) {
		var task map[string]any
		ts.call(t, http.MethodPost, "/api/tasks", map[string]any{
			"title": "Write copy", "project": projectID, "estimatedHours": 3,
		}, token, http.StatusCreated, &task)
		taskID = task["id"].(string)

		ts.call(t, http.MethodPost, "/api/tasks", map[string]any{
			"title": "Design banner", "project": projectID,
		}, token, http.StatusCreated, nil)

		var tasks []map[string]any
		ts.call(t, http.MethodGet, "/api/tasks?project="+projectID, nil, token, http.StatusOK, &tasks)
		if len(tasks) != 2 {
			t.Errorf("Expected 2 tasks, got %d", len(tasks))
		}
	})

	t.Run("LogTime", func(t *testing.T) {
		ts.call(t, http.MethodPost, "/api/tasks/"+taskID+"/timelog", map[string]any{
			"hours": 1.5, "description": "first draft",
		}, token, http.StatusCreated, nil)

		var task map[string]any
		ts.call(t, http.MethodGet, "/api/tasks/"+taskID, nil, token, http.StatusOK, &task)
		if task["actualHours"] != 1.5 {
			t.Errorf("Expected 1.5 actual hours, got %v", task["actualHours"])
		}
	})

	t.Run("CompleteTaskUpdatesProgress", func(t *testing.T) {
		ts.call(t, http.MethodPatch, "/api/tasks/"+taskID, map[string]any{"status": db.TaskCompleted}, token, http.StatusOK, nil)

		var project map[string]any
		ts.call(t, http.MethodGet, "/api/projects/"+projectID, nil, token, http.StatusOK, &project)
		if project["progress"] != float64(50) {
			t.Errorf("Expected progress 50, got %v", project["progress"])
		}
	})

	t.Run("Comment", func(t *testing.T) {
		var comment map[string]any
		ts.call(t, http.MethodPost, "/api/tasks/"+taskID+"/comments", map[string]any{
			"content": "Looks **good**",
		}, token, http.StatusCreated, &comment)
		if comment["contentHtml"] != "<p>Looks <strong>good</strong></p>\n" {
			t.Errorf("Unexpected rendered comment %q", comment["contentHtml"])
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		var dash map[string]any
		ts.call(t, http.MethodGet, "/api/reports/dashboard", nil, token, http.StatusOK, &dash)
		if _, ok := dash["hoursPerDay"]; !ok {
			t.Errorf("Dashboard is missing hoursPerDay: %v", dash)
		}
	})

	t.Run("DeleteProject", func(t *testing.T) {
		ts.call(t, http.MethodDelete, "/api/projects/"+projectID, nil, token, http.StatusOK, nil)
		ts.call(t, http.MethodGet, "/api/projects/"+projectID, nil, token, http.StatusNotFound, nil)

		var tasks []map[string]any
		ts.call(t, http.MethodGet, "/api/tasks?project="+projectID, nil, token, http.StatusOK, &tasks)
		if len(tasks) != 0 {
			t.Errorf("Expected no tasks after project deletion, got %d", len(tasks))
		}
	})
}

func TestAuthorizationChecks(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	adminToken, _ := ts.Register(t, "Admin", "admin@example.com", "password123")
	ownerToken, _ := ts.Register(t, "Owner", "owner@example.com", "password123")
	otherToken, _ := ts.Register(t, "Other", "other@example.com", "password123")

	var project map[string]any
	ts.call(t, http.MethodPost, "/api/projects", map[string]any{"title": "Private"}, ownerToken, http.StatusCreated, &project)
	path := "/api/projects/" + project["id"].(string)

	t.Run("UserCannotAccessOtherUsersProject", func(t *testing.T) {
		ts.call(t, http.MethodGet, path, nil, otherToken, http.StatusForbidden, nil)
	})

	t.Run("UserCannotUpdateOtherUsersProject", func(t *testing.T) {
		ts.call(t, http.MethodPatch, path, map[string]any{"title": "Hijacked"}, otherToken, http.StatusForbidden, nil)
	})

	t.Run("UserCannotDeleteOtherUsersProject", func(t *testing.T) {
		ts.call(t, http.MethodDelete, path, nil, otherToken, http.StatusForbidden, nil)
	})

	t.Run("AdminSeesEveryProject", func(t *testing.T) {
		var projects []map[string]any
		ts.call(t, http.MethodGet, "/api/projects", nil, adminToken, http.StatusOK, &projects)
		if len(projects) != 1 {
			t.Errorf("Expected admin to see 1 project, got %d", len(projects))
		}
	})

	t.Run("MissingTokenIsRejected", func(t *testing.T) {
		ts.call(t, http.MethodGet, "/api/projects", nil, "", http.StatusUnauthorized, nil)
	})
}

func TestValidationErrors(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	token, _ := ts.Register(t, "Val", "val@example.com", "password123")

	t.Run("CreateProjectWithoutTitle", func(t *testing.T) {
		var body map[string]any
		ts.call(t, http.MethodPost, "/api/projects", map[string]any{"description": "no title"}, token, http.StatusBadRequest, &body)
		if body["error"] != "title is required" {
			t.Errorf("Unexpected error %v", body["error"])
		}
	})

	t.Run("CreateTaskWithInvalidStatus", func(t *testing.T) {
		var project map[string]any
		ts.call(t, http.MethodPost, "/api/projects", map[string]any{"title": "P"}, token, http.StatusCreated, &project)

		var body map[string]any
		ts.call(t, http.MethodPost, "/api/tasks", map[string]any{
			"title": "T", "project": project["id"], "status": "blocked",
		}, token, http.StatusBadRequest, &body)
		if body["code"] != "validation_error" {
			t.Errorf("Expected validation_error, got %v", body["code"])
		}
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.BaseURL+"/api/projects", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := ts.Client.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestTeamProjectAccess(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	ts.Register(t, "Admin", "admin@example.com", "password123")
	leadToken, _ := ts.Register(t, "Lead", "lead@example.com", "password123")
	memberToken, member := ts.Register(t, "Member", "member@example.com", "password123")

	var team map[string]any
	ts.call(t, http.MethodPost, "/api/teams", map[string]any{"name": "Platform"}, leadToken, http.StatusCreated, &team)
	teamID := team["id"].(string)

	var invitation map[string]any
	ts.call(t, http.MethodPost, "/api/teams/"+teamID+"/invitations", map[string]any{
		"email": "member@example.com",
	}, leadToken, http.StatusCreated, &invitation)

	var pending []map[string]any
	ts.call(t, http.MethodGet, "/api/team/invitations", nil, memberToken, http.StatusOK, &pending)
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending invitation, got %d", len(pending))
	}
	ts.call(t, http.MethodPost, "/api/team/invitations/"+pending[0]["id"].(string)+"/accept", nil, memberToken, http.StatusOK, nil)

	var members []map[string]any
	ts.call(t, http.MethodGet, "/api/teams/"+teamID+"/members", nil, leadToken, http.StatusOK, &members)
	if len(members) != 2 {
		t.Errorf("Expected 2 team members, got %d", len(members))
	}

	var notifications map[string]any
	ts.call(t, http.MethodGet, "/api/notifications", nil, memberToken, http.StatusOK, &notifications)
	if notifications["unreadCount"] != float64(1) {
		t.Errorf("Expected 1 unread notification for the invitee, got %v", notifications["unreadCount"])
	}

	var project map[string]any
	ts.call(t, http.MethodPost, "/api/projects", map[string]any{
		"title": "Shared", "members": []string{member["id"].(string)},
	}, leadToken, http.StatusCreated, &project)
	ts.call(t, http.MethodGet, "/api/projects/"+project["id"].(string), nil, memberToken, http.StatusOK, nil)
}
