package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationListResponse carries a page of notifications and the unread
// total.
type NotificationListResponse struct {
	Notifications any `json:"notifications"`
	UnreadCount   int `json:"unreadCount"`
}

// HandleListNotifications lists the caller's notifications. ?unread=true
// restricts to unread ones; ?limit= caps the page.
func (s *Server) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	unread, _ := strconv.ParseBool(q.Get("unread"))
	limit := defaultNotificationLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = min(n, maxNotificationLimit)
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	list, err := s.db.ListNotifications(ctx, user.ID, unread, limit)
	if err != nil {
		s.respondAppError(w, err, "failed to list notifications")
		return
	}
	count, err := s.db.CountUnreadNotifications(ctx, user.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to list notifications")
		return
	}
	respondJSON(w, http.StatusOK, NotificationListResponse{Notifications: list, UnreadCount: count})
}

// HandleMarkNotificationRead marks one notification read
func (s *Server) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.MarkNotificationRead(ctx, chi.URLParam(r, "id"), user.ID); err != nil {
		s.respondAppError(w, err, "failed to update notification")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// HandleMarkAllNotificationsRead marks every notification of the caller read
func (s *Server) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	n, err := s.db.MarkAllNotificationsRead(ctx, user.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to update notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// HandleDeleteNotification removes one of the caller's notifications
func (s *Server) HandleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	if err := s.db.DeleteNotification(ctx, chi.URLParam(r, "id"), user.ID); err != nil {
		s.respondAppError(w, err, "failed to delete notification")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}
