package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trackflow/internal/auth"
	"trackflow/internal/config"
	"trackflow/internal/db"
	"trackflow/internal/holiday"
	"trackflow/internal/notify"
	"trackflow/internal/pomodoro"
	"trackflow/internal/realtime"
	"trackflow/internal/storage"
)

const defaultQueryTimeout = 5 * time.Second

// Server holds the application dependencies
type Server struct {
	db       *db.DB
	config   *config.Config
	logger   *zap.Logger
	auth     *auth.Service
	storage  *storage.Store
	notifier *notify.Service
	hub      *realtime.Hub
	calendar *holiday.Calendar
	pomodoro pomodoro.Config
}

// NewServer creates a new API server. Notifications go to the database
// only until SetNotifier installs a service with a mail queue.
func NewServer(database *db.DB, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		db:       database,
		config:   cfg,
		logger:   logger,
		auth:     auth.NewService(cfg.JWTSecret, cfg.JWTExpiry()),
		notifier: notify.NewService(database, nil, cfg.BaseURL, logger),
		calendar: holiday.New(cfg.HolidayCountry),
		pomodoro: pomodoro.DefaultConfig(),
	}
}

// SetAuthService sets the auth service
func (s *Server) SetAuthService(authService *auth.Service) {
	s.auth = authService
}

// SetStorage sets the upload store
func (s *Server) SetStorage(store *storage.Store) {
	s.storage = store
}

// SetNotifier sets the notification service
func (s *Server) SetNotifier(n *notify.Service) {
	s.notifier = n
}

// SetHub sets the realtime hub. Without one, mutations are not broadcast.
func (s *Server) SetHub(hub *realtime.Hub) {
	s.hub = hub
}

// queryContext bounds the database work of one request.
func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.config.DBQueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

// broadcast publishes a realtime event to the project's room.
func (s *Server) broadcast(eventType, projectID string, payload any) {
	if s.hub == nil || projectID == "" {
		return
	}
	s.hub.PublishPayload(eventType, projectID, payload)
}

// sendNotice sends a notification, logging instead of failing the request.
func (s *Server) sendNotice(ctx context.Context, n notify.Notice) {
	if _, err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Failed to send notification",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

// logActivity records a team activity entry. It never fails the request.
func (s *Server) logActivity(ctx context.Context, actorID, kind, description string, entity notify.Entity) {
	s.notifier.LogActivity(ctx, actorID, kind, description, entity)
}

// logTeamActivity records an entry in a known team's feed.
func (s *Server) logTeamActivity(ctx context.Context, teamID, actorID, kind, description string, entity notify.Entity) {
	s.notifier.LogTeamActivity(ctx, teamID, actorID, kind, description, entity)
}
