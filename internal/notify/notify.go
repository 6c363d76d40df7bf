// Package notify creates in-app notifications, optional email copies and
// team activity entries on behalf of the handlers that trigger them.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/mail"
)

// Store is the persistence the service needs.
type Store interface {
	GetUserByID(ctx context.Context, id string) (*db.User, error)
	CreateNotification(ctx context.Context, n *db.Notification) error
	GetUserTeamID(ctx context.Context, userID string) (string, error)
	CreateActivityLog(ctx context.Context, a *db.ActivityLog) error
}

// Notice describes a notification to deliver.
type Notice struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Payload map[string]any
	// RefID makes the notice idempotent per user and type.
	RefID string
	// Link is a path below the base URL included in the email.
	Link string
}

// Service fans notices out to storage and mail.
type Service struct {
	store   Store
	queue   mail.Queue
	baseURL string
	logger  *zap.Logger
}

// NewService returns a notification service. queue may be nil to disable
// email.
func NewService(store Store, queue mail.Queue, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		queue:   queue,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Wants reports whether prefs allow notifications of kind. Kinds without a
// preference are always delivered.
func Wants(prefs db.NotificationPreferences, kind string) bool {
	switch kind {
	case db.NotifyTaskAssignment:
		return prefs.TaskAssignments
	case db.NotifyDeadlineReminder:
		return prefs.DeadlineReminders
	case db.NotifyMention:
		return prefs.Mentions
	case db.NotifyTeamInvitation, db.NotifyJoinRequest, db.NotifyJoinResponse,
		db.NotifyLeaveRequest, db.NotifyLeaveResponse:
		return prefs.TeamUpdates
	default:
		return true
	}
}

// Notify stores the notice for its user and queues an email copy when the
// user has email enabled. It returns nil, nil when the user opted out or a
// notice with the same RefID was already delivered.
func (s *Service) Notify(ctx context.Context, n Notice) (*db.Notification, error) {
	user, err := s.store.GetUserByID(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification recipient: %w", err)
	}
	if !Wants(user.NotificationPreferences, n.Type) {
		s.logger.Debug("Notification suppressed by preferences",
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type))
		return nil, nil
	}

	rec := &db.Notification{
		UserID:  n.UserID,
		Type:    n.Type,
		Title:   n.Title,
		Message: n.Message,
		Payload: db.JSONObject(n.Payload),
		RefID:   n.RefID,
	}
	if err := s.store.CreateNotification(ctx, rec); err != nil {
		if n.RefID != "" && apperr.IsConflict(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	if s.queue != nil && user.NotificationPreferences.Email {
		msg := &mail.Message{
			To:      []string{user.Email},
			Subject: n.Title,
			HTML:    s.renderEmail(user.Name, n),
		}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			s.logger.Warn("Failed to queue notification email",
				zap.String("user_id", n.UserID),
				zap.String("type", n.Type),
				zap.Error(err))
		}
	}
	return rec, nil
}

// NotifyAll sends the same notice to every user in userIDs except skip.
// Failures are logged and do not stop the remaining deliveries.
func (s *Service) NotifyAll(ctx context.Context, userIDs []string, skip string, n Notice) int {
	sent := 0
	for _, id := range userIDs {
		if id == "" || id == skip {
			continue
		}
		n.UserID = id
		rec, err := s.Notify(ctx, n)
		if err != nil {
			s.logger.Warn("Notification failed", zap.String("user_id", id), zap.String("type", n.Type), zap.Error(err))
			continue
		}
		if rec != nil {
			sent++
		}
	}
	return sent
}

func (s *Service) renderEmail(name string, n Notice) string {
	var sb strings.Builder
	sb.WriteString(`<html><body style="font-family: Arial, sans-serif;">`)
	fmt.Fprintf(&sb, "<p>Hi %s,</p>", html.EscapeString(name))
	fmt.Fprintf(&sb, "<h3>%s</h3>", html.EscapeString(n.Title))
	fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(n.Message))
	if n.Link != "" {
		fmt.Fprintf(&sb, `<p><a href="%s">Open in TrackFlow</a></p>`, html.EscapeString(s.baseURL+n.Link))
	}
	sb.WriteString(`<hr><p style="color: #888; font-size: 12px;">You can change email notifications in your TrackFlow settings.</p>`)
	sb.WriteString("</body></html>")
	return sb.String()
}

// Entity identifies what an activity entry is about.
type Entity struct {
	Type string
	ID   string
	Name string
}

// LogActivity records an activity entry in the actor's first team. Use
// LogTeamActivity when the event belongs to a known team. An actor without a
// team is skipped silently.
func (s *Service) LogActivity(ctx context.Context, actorID, kind, description string, entity Entity) {
	teamID, err := s.store.GetUserTeamID(ctx, actorID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn("Failed to resolve team for activity log",
				zap.String("actor_id", actorID),
				zap.Error(err))
		} else {
			s.logger.Debug("Actor has no team, skipping activity log",
				zap.String("actor_id", actorID),
				zap.String("type", kind))
		}
		return
	}
	s.LogTeamActivity(ctx, teamID, actorID, kind, description, entity)
}

// LogTeamActivity records an activity entry in teamID's feed.
func (s *Service) LogTeamActivity(ctx context.Context, teamID, actorID, kind, description string, entity Entity) {
	entry := &db.ActivityLog{
		TeamID:      teamID,
		ActorID:     actorID,
		Type:        kind,
		Description: description,
		EntityType:  entity.Type,
		EntityID:    entity.ID,
		EntityName:  entity.Name,
	}
	if err := s.store.CreateActivityLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to write activity log",
			zap.String("team_id", teamID),
			zap.String("actor_id", actorID),
			zap.String("type", kind),
			zap.Error(err))
	}
}
