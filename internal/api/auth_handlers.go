package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/auth"
	"trackflow/internal/db"
	"trackflow/internal/storage"
)

// RegisterRequest represents the registration payload
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=admin member"`
}

// LoginRequest represents the login payload. TOTPCode is required once the
// account has two-factor authentication enabled.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totpCode"`
}

// AuthResponse is returned by register and login. The token is also set as
// the auth-token cookie.
type AuthResponse struct {
	Token string   `json:"token"`
	User  *db.User `json:"user"`
}

// UpdateProfileRequest is a partial profile update
type UpdateProfileRequest struct {
	Name                    *string                     `json:"name" validate:"omitempty,min=1,max=100"`
	NotificationPreferences *db.NotificationPreferences `json:"notificationPreferences"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

// HandleRegister creates a new account and signs it in. The first account
// on an empty install becomes admin; later sign-ups asking for admin are
// refused.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeValid(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	user := &db.User{
		Name:                    strings.TrimSpace(req.Name),
		Email:                   req.Email,
		PasswordHash:            hash,
		Role:                    db.RoleMember,
		NotificationPreferences: db.DefaultNotificationPreferences(),
	}
	err = s.db.InTx(ctx, func(tx *db.Tx) error {
		n, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		switch {
		case n == 0:
			user.Role = db.RoleAdmin
		case req.Role == db.RoleAdmin:
			return apperr.Forbidden("only an admin can grant the admin role")
		}
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		s.respondAppError(w, err, "failed to create user")
		return
	}

	token, err := s.auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("Failed to generate token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to generate token", "internal_error")
		return
	}
	auth.SetAuthCookie(w, token, s.config.CookieSecure)

	s.logger.Info("User registered", zap.String("user_id", user.ID), zap.String("role", user.Role))
	respondJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// HandleLogin verifies credentials, sets the auth cookie and records the
// login time.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	user, err := s.db.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if apperr.IsNotFound(err) {
			respondError(w, http.StatusUnauthorized, "invalid email or password", "invalid_credentials")
			return
		}
		s.respondAppError(w, err, "failed to authenticate")
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		s.logger.Info("Failed login attempt", zap.String("user_id", user.ID), zap.String("ip", clientIP(r)))
		respondError(w, http.StatusUnauthorized, "invalid email or password", "invalid_credentials")
		return
	}

	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			respondError(w, http.StatusUnauthorized, "two-factor code required", "totp_required")
			return
		}
		if !auth.ValidateTOTP(req.TOTPCode, user.TOTPSecret) {
			respondError(w, http.StatusUnauthorized, "invalid two-factor code", "invalid_totp")
			return
		}
	}

	loginAt, err := s.db.TouchLogin(ctx, user.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to authenticate")
		return
	}
	user.LastLogin = &loginAt
	user.LastActive = &loginAt

	token, err := s.auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		s.logger.Error("Failed to generate token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to generate token", "internal_error")
		return
	}
	auth.SetAuthCookie(w, token, s.config.CookieSecure)

	respondJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// HandleLogout clears the auth cookie. It succeeds without a session too.
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	if claims, ok := s.auth.ClaimsFromRequest(r); ok {
		if err := s.db.TouchLogout(ctx, claims.UserID); err != nil && !apperr.IsNotFound(err) {
			s.logger.Warn("Failed to record logout", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}
	auth.ClearAuthCookie(w, s.config.CookieSecure)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// HandleMe returns the current authenticated user
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		respondError(w, http.StatusUnauthorized, "user not authenticated", "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// HandleUpdateProfile updates the current user's name and notification
// preferences
func (s *Server) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req UpdateProfileRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			respondError(w, http.StatusBadRequest, "name cannot be empty", "validation_error")
			return
		}
		req.Name = &name
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	updated, err := s.db.UpdateUser(ctx, user.ID, db.UserUpdate{
		Name:                    req.Name,
		NotificationPreferences: req.NotificationPreferences,
	})
	if err != nil {
		s.respondAppError(w, err, "failed to update profile")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// HandleChangePassword replaces the password after checking the current one
func (s *Server) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req ChangePasswordRequest
	if !decodeValid(w, r, &req) {
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
		respondError(w, http.StatusBadRequest, "current password is incorrect", "invalid_password")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.SetPasswordHash(ctx, user.ID, hash); err != nil {
		s.respondAppError(w, err, "failed to change password")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// HandleUploadAvatar stores an avatar image and points the profile at it.
// The previous avatar file is removed.
func (s *Server) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	rec, err := s.receiveUpload(ctx, r, storage.Avatars, user)
	if err != nil {
		s.respondAppError(w, err, "failed to upload avatar")
		return
	}

	url := storage.URL(rec.Category, rec.Filename)
	updated, err := s.db.UpdateUser(ctx, user.ID, db.UserUpdate{AvatarURL: &url})
	if err != nil {
		s.removeUpload(ctx, rec.Category, rec.Filename)
		s.respondAppError(w, err, "failed to update avatar")
		return
	}

	if old := strings.TrimPrefix(user.AvatarURL, storage.URL(storage.Avatars, "")); old != user.AvatarURL && old != rec.Filename {
		s.removeUpload(ctx, storage.Avatars, old)
	}
	respondJSON(w, http.StatusOK, updated)
}
