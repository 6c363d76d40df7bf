package api

import (
	"net/http"

	"go.uber.org/zap"

	"trackflow/internal/version"
)

// HealthResponse reports liveness and database reachability
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HandleVersion returns version information about the API, database, and build
func (s *Server) HandleVersion(w http.ResponseWriter, r *http.Request) {
	dbVersion, err := s.db.GetMigrationVersion(r.Context())
	if err != nil {
		s.logger.Warn("Failed to get database version", zap.Error(err))
		dbVersion = 0
	}

	respondJSON(w, http.StatusOK, version.Get(s.config.Env, s.db.DriverKind(), dbVersion))
}

// HandleHealth pings the database. An unreachable database is a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "error", Database: "unreachable"})
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "ok"})
}
