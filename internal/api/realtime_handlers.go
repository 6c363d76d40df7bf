package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trackflow/internal/db"
	"trackflow/internal/realtime"
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts requests without an Origin header, same-host origins
// and the configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return slices.Contains(s.config.CORSAllowedOrigins, "*") ||
		slices.Contains(s.config.CORSAllowedOrigins, origin)
}

// HandleProjectSocket upgrades to a websocket subscribed to one project's
// events. Browsers send the auth cookie; other clients may pass ?token=.
func (s *Server) HandleProjectSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "realtime updates are disabled", "unavailable")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	user := s.auth.CurrentUser(r, s.db.GetUserByID)
	if user == nil {
		if token := r.URL.Query().Get("token"); token != "" {
			if claims, err := s.auth.ValidateToken(token); err == nil {
				user, _ = s.db.GetUserByID(ctx, claims.UserID)
			}
		}
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
		return
	}

	project, err := s.projectFor(ctx, user, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to open realtime connection")
		return
	}
	cancel()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	s.join(conn, user, project)
}

func (s *Server) join(conn *websocket.Conn, user *db.User, project *db.Project) {
	client := realtime.NewClient(conn, user.ID)
	s.hub.Register(client, project.ID)
	s.logger.Debug("Realtime client connected",
		zap.String("user_id", user.ID),
		zap.String("project_id", project.ID))
}
