package api

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/auth"
)

// TwoFAStatusResponse reports whether the second factor is active
type TwoFAStatusResponse struct {
	Enabled bool `json:"enabled"`
}

// TwoFASetupResponse carries a new secret for the authenticator app
type TwoFASetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
	QRCode string `json:"qrCode"` // data URL of a PNG
}

// TwoFACodeRequest confirms a code from the authenticator app
type TwoFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// TwoFADisableRequest needs the password and a current code
type TwoFADisableRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// CreateAPIKeyRequest represents the request to create an API key
type CreateAPIKeyRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	ExpiresIn *int   `json:"expiresIn" validate:"omitempty,min=1,max=365"` // days
}

// Handle2FAStatus returns whether 2FA is enabled
func (s *Server) Handle2FAStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, TwoFAStatusResponse{Enabled: currentUser(r).TOTPEnabled})
}

// Handle2FASetup generates a secret and stores it, inactive until confirmed
// through Handle2FAEnable.
func (s *Server) Handle2FASetup(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user.TOTPEnabled {
		respondError(w, http.StatusConflict, "two-factor authentication is already enabled", "conflict")
		return
	}

	setup, err := auth.GenerateTOTP(user.Email)
	if err != nil {
		s.logger.Error("Failed to generate TOTP secret", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to set up two-factor authentication", "internal_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.SetTOTP(ctx, user.ID, setup.Secret, false); err != nil {
		s.respondAppError(w, err, "failed to set up two-factor authentication")
		return
	}

	respondJSON(w, http.StatusOK, TwoFASetupResponse{
		Secret: setup.Secret,
		URL:    setup.URL,
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(setup.QRCode),
	})
}

// Handle2FAEnable activates the pending secret once a code verifies
func (s *Server) Handle2FAEnable(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req TwoFACodeRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if user.TOTPEnabled {
		respondError(w, http.StatusConflict, "two-factor authentication is already enabled", "conflict")
		return
	}
	if user.TOTPSecret == "" {
		respondError(w, http.StatusBadRequest, "run two-factor setup first", "validation_error")
		return
	}
	if !auth.ValidateTOTP(req.Code, user.TOTPSecret) {
		respondError(w, http.StatusBadRequest, "invalid two-factor code", "invalid_totp")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.SetTOTP(ctx, user.ID, user.TOTPSecret, true); err != nil {
		s.respondAppError(w, err, "failed to enable two-factor authentication")
		return
	}
	respondJSON(w, http.StatusOK, TwoFAStatusResponse{Enabled: true})
}

// Handle2FADisable turns 2FA off after checking the password and a code
func (s *Server) Handle2FADisable(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req TwoFADisableRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if !user.TOTPEnabled {
		respondError(w, http.StatusBadRequest, "two-factor authentication is not enabled", "validation_error")
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusBadRequest, "password is incorrect", "invalid_password")
		return
	}
	if !auth.ValidateTOTP(req.Code, user.TOTPSecret) {
		respondError(w, http.StatusBadRequest, "invalid two-factor code", "invalid_totp")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.SetTOTP(ctx, user.ID, "", false); err != nil {
		s.respondAppError(w, err, "failed to disable two-factor authentication")
		return
	}
	respondJSON(w, http.StatusOK, TwoFAStatusResponse{Enabled: false})
}

// HandleListAPIKeys lists the caller's API keys without their secrets
func (s *Server) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	keys, err := s.db.GetAPIKeysByUserID(ctx, user.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to list API keys")
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// HandleCreateAPIKey creates a key. The secret is only ever returned here.
func (s *Server) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateAPIKeyRequest
	if !decodeValid(w, r, &req) {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != nil {
		t := time.Now().UTC().AddDate(0, 0, *req.ExpiresIn)
		expiresAt = &t
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	key, err := s.db.CreateAPIKey(ctx, user.ID, req.Name, expiresAt)
	if err != nil {
		s.respondAppError(w, err, "failed to create API key")
		return
	}

	s.logger.Info("API key created", zap.String("user_id", user.ID), zap.String("key_id", key.ID))
	respondJSON(w, http.StatusCreated, key)
}

// HandleDeleteAPIKey revokes one of the caller's keys
func (s *Server) HandleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	keyID := chi.URLParam(r, "id")

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.DeleteAPIKey(ctx, keyID, user.ID); err != nil {
		s.respondAppError(w, err, "failed to delete API key")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "API key deleted"})
}
