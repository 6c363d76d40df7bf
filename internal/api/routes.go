package api

import (
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trackflow/internal/storage"
	"trackflow/internal/version"
)

const (
	maxJSONBody      = 1 << 20
	publicRateLimit  = 30
	requestTimeout   = 30 * time.Second
	uploadBodyBudget = multipartSlack
)

// Routes builds the HTTP handler: middleware, the route table and tracing.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(limitBody)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "TrackFlow API", "version": version.Version})
	})
	r.Get("/healthz", s.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)
		r.Get("/version", s.HandleVersion)

		r.Route("/auth", func(r chi.Router) {
			r.Use(RateLimitMiddleware(s.config.AuthRateLimitRequests))
			r.Post("/register", s.HandleRegister)
			r.Post("/login", s.HandleLogin)
			r.Post("/logout", s.HandleLogout)
			r.With(s.RequireAuth).Get("/me", s.HandleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(publicRateLimit))
			r.Get("/team/invitations/by-token", s.HandleInvitationByToken)
			// Authenticates itself: browsers cannot set headers on upgrades.
			r.Get("/realtime/projects/{id}", s.HandleProjectSocket)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.RequireAuth)
			r.Use(RateLimitMiddleware(s.config.RateLimitRequests))

			// Profile
			r.Patch("/users/me", s.HandleUpdateProfile)
			r.Post("/users/me/password", s.HandleChangePassword)
			r.Post("/users/me/avatar", s.HandleUploadAvatar)
			r.Get("/users", s.HandleListUsers)
			r.With(s.RequireAdmin).Patch("/users/{id}/role", s.HandleSetUserRole)
			r.With(s.RequireAdmin).Get("/admin/users/{id}/activity", s.HandleGetUserActivity)

			// Security settings
			r.Get("/settings/2fa/status", s.Handle2FAStatus)
			r.Post("/settings/2fa/setup", s.Handle2FASetup)
			r.Post("/settings/2fa/enable", s.Handle2FAEnable)
			r.Post("/settings/2fa/disable", s.Handle2FADisable)
			r.Get("/api-keys", s.HandleListAPIKeys)
			r.Post("/api-keys", s.HandleCreateAPIKey)
			r.Delete("/api-keys/{id}", s.HandleDeleteAPIKey)

			// Projects
			r.Get("/projects", s.HandleListProjects)
			r.Post("/projects", s.HandleCreateProject)
			r.Get("/projects/{id}", s.HandleGetProject)
			r.Patch("/projects/{id}", s.HandleUpdateProject)
			r.Delete("/projects/{id}", s.HandleDeleteProject)
			r.Post("/projects/{id}/members", s.HandleAddProjectMember)
			r.Delete("/projects/{id}/members/{userId}", s.HandleRemoveProjectMember)
			r.Get("/projects/{id}/report", s.HandleProjectReport)

			// Tasks
			r.Get("/tasks", s.HandleListTasks)
			r.Post("/tasks", s.HandleCreateTask)
			r.Get("/tasks/{id}", s.HandleGetTask)
			r.Patch("/tasks/{id}", s.HandleUpdateTask)
			r.Delete("/tasks/{id}", s.HandleDeleteTask)

			// Subtasks
			r.Get("/tasks/{id}/subtasks", s.HandleListSubtasks)
			r.Post("/tasks/{id}/subtasks", s.HandleCreateSubtask)
			r.Patch("/tasks/{id}/subtasks", s.HandleUpdateTaskSubtask)
			r.Get("/subtasks/{id}", s.HandleGetSubtask)
			r.Patch("/subtasks/{id}", s.HandleUpdateSubtask)
			r.Delete("/subtasks/{id}", s.HandleDeleteSubtask)

			// Time
			r.Get("/tasks/{id}/timelog", s.HandleListTaskTimeLogs)
			r.Post("/tasks/{id}/timelog", s.HandleCreateTimeLog)
			r.Delete("/tasks/{id}/timelog", s.HandleDeleteTimeLog)
			r.Get("/timelogs", s.HandleListTimeLogs)
			r.Get("/timelogs/export", s.HandleExportTimeLogs)
			r.Post("/timelogs/{id}/approve", s.HandleApproveTimeLog)

			// Comments
			r.Get("/tasks/{id}/comments", s.HandleListComments)
			r.Post("/tasks/{id}/comments", s.HandleCreateComment)
			r.Patch("/comments/{id}", s.HandleUpdateComment)
			r.Delete("/comments/{id}", s.HandleDeleteComment)

			// Notifications
			r.Get("/notifications", s.HandleListNotifications)
			r.Patch("/notifications/{id}/read", s.HandleMarkNotificationRead)
			r.Post("/notifications/read-all", s.HandleMarkAllNotificationsRead)
			r.Delete("/notifications/{id}", s.HandleDeleteNotification)

			// Teams
			r.Post("/teams", s.HandleCreateTeam)
			r.Get("/teams", s.HandleListTeams)
			r.Get("/teams/{id}", s.HandleGetTeam)
			r.Get("/teams/{id}/members", s.HandleListTeamMembers)
			r.Delete("/teams/{id}/members/{userId}", s.HandleRemoveTeamMember)
			r.Patch("/teams/{id}/members/{userId}", s.HandleSetTeamMemberRole)
			r.Post("/teams/{id}/invitations", s.HandleInviteToTeam)
			r.Get("/teams/{id}/activity", s.HandleListTeamActivity)
			r.Get("/team/invitations", s.HandleListMyInvitations)
			r.Post("/team/invitations/accept-by-token", s.HandleAcceptInvitationByToken)
			r.Post("/team/invitations/{id}/accept", s.HandleAcceptInvitation)
			r.Post("/team/invitations/{id}/decline", s.HandleDeclineInvitation)

			// Join and leave requests
			r.Post("/teams/{id}/join-requests", s.HandleCreateJoinRequest)
			r.Get("/teams/{id}/join-requests", s.HandleListJoinRequests)
			r.Post("/join-requests/{id}/approve", s.HandleApproveJoinRequest)
			r.Post("/join-requests/{id}/decline", s.HandleDeclineJoinRequest)
			r.Post("/teams/{id}/leave-requests", s.HandleCreateLeaveRequest)
			r.Get("/teams/{id}/leave-requests", s.HandleListLeaveRequests)
			r.Post("/leave-requests/{id}/approve", s.HandleApproveLeaveRequest)
			r.Post("/leave-requests/{id}/decline", s.HandleDeclineLeaveRequest)

			// Pomodoro
			r.Post("/pomodoro/sessions", s.HandleRecordSession)
			r.Get("/pomodoro/sessions", s.HandleListSessions)
			r.Post("/pomodoro/sessions/start", s.HandleStartSession)
			r.Post("/pomodoro/sessions/{id}/finish", s.HandleFinishSession)
			r.Get("/pomodoro/stats", s.HandlePomodoroStats)

			// Files
			r.Post("/files/upload", s.HandleUploadFile)
			r.Get("/files/list", s.HandleListFiles)
			r.Delete("/files/list", s.HandleDeleteFiles)
			r.Get("/files/{category}/{filename}", s.HandleGetFile)
			r.Delete("/files/{category}/{filename}", s.HandleDeleteFile)

			// Reports
			r.Get("/reports/dashboard", s.HandleDashboard)
			r.Get("/search", s.HandleSearch)
		})
	})

	return otelhttp.NewHandler(r, version.Name,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// limitBody caps request bodies: 1MB for JSON, the largest upload category
// for multipart bodies. Upload handlers enforce the per-category limit.
func limitBody(next http.Handler) http.Handler {
	var maxUpload int64
	for _, rule := range storage.Rules {
		maxUpload = max(maxUpload, rule.MaxSize)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := int64(maxJSONBody)
		if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "multipart/form-data" {
			limit = maxUpload + uploadBodyBudget
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
