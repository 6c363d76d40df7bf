package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// Notification types
const (
	NotifyTaskAssignment   = "task_assignment"
	NotifyDeadlineReminder = "deadline_reminder"
	NotifyTeamInvitation   = "team_invitation"
	NotifyMention          = "mention"
	NotifyTimeApproval     = "time_approval"
	NotifyJoinRequest      = "join_request"
	NotifyJoinResponse     = "join_request_response"
	NotifyLeaveRequest     = "leave_request"
	NotifyLeaveResponse    = "leave_request_response"
)

// Notification is a message for one user.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user"`
	Type      string     `db:"type" json:"type"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	Payload   JSONObject `db:"payload" json:"payload"`
	RefID     string     `db:"ref_id" json:"-"`
	Read      bool       `db:"is_read" json:"read"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

var notificationColumns = []string{
	"id", "user_id", "type", "title", "message", "payload", "ref_id", "is_read", "created_at",
}

// CreateNotification inserts n. When RefID is set, a second notification
// with the same user, type and ref is a conflict; callers use that to send
// one reminder per task per day.
func (q *Queries) CreateNotification(ctx context.Context, n *Notification) error {
	n.ID = newID()
	n.CreatedAt = now()
	if n.Payload == nil {
		n.Payload = JSONObject{}
	}

	_, err := q.exec(ctx, q.sb.Insert("notifications").
		Columns(notificationColumns...).
		Values(n.ID, n.UserID, n.Type, n.Title, n.Message, n.Payload, n.RefID, n.Read, n.CreatedAt),
		"notification")
	return err
}

// NotificationExists reports whether a notification with the given ref was
// already sent to userID.
func (q *Queries) NotificationExists(ctx context.Context, userID, kind, refID string) (bool, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("notifications")).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.EQ("type", kind),
			entsql.EQ("ref_id", refID),
		)), "notification")
	return n > 0, err
}

// ListNotifications returns a user's notifications, newest first.
func (q *Queries) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	sel := q.sb.Select(notificationColumns...).
		From(q.table("notifications")).
		Where(entsql.EQ("user_id", userID))
	if unreadOnly {
		sel.Where(entsql.EQ("is_read", false))
	}
	if limit > 0 {
		sel.Limit(limit)
	}

	notifications := []Notification{}
	err := q.list(ctx, &notifications, sel.OrderBy(entsql.Desc("created_at")), "notification")
	return notifications, err
}

// CountUnreadNotifications counts a user's unread notifications.
func (q *Queries) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("notifications")).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("is_read", false))), "notification")
	return n, err
}

// MarkNotificationRead marks one of userID's notifications read. Another
// user's notification is reported as not found.
func (q *Queries) MarkNotificationRead(ctx context.Context, id, userID string) error {
	return q.execOne(ctx, q.sb.Update("notifications").
		Set("is_read", true).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", userID))), "notification")
}

// MarkAllNotificationsRead marks every notification of userID read and
// returns how many changed.
func (q *Queries) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	return q.exec(ctx, q.sb.Update("notifications").
		Set("is_read", true).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("is_read", false))), "notification")
}

// DeleteNotification removes one of userID's notifications.
func (q *Queries) DeleteNotification(ctx context.Context, id, userID string) error {
	err := q.execOne(ctx, q.sb.Delete("notifications").
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("user_id", userID))), "notification")
	if apperr.IsNotFound(err) {
		return apperr.NotFound("notification not found")
	}
	return err
}
