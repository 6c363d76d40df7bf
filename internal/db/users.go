package db

import (
	"context"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// NotificationPreferences are the per-user notification switches.
type NotificationPreferences struct {
	Email             bool `db:"notify_email" json:"email"`
	TaskAssignments   bool `db:"notify_task_assignments" json:"taskAssignments"`
	DeadlineReminders bool `db:"notify_deadline_reminders" json:"deadlineReminders"`
	Mentions          bool `db:"notify_mentions" json:"mentions"`
	TeamUpdates       bool `db:"notify_team_updates" json:"teamUpdates"`
}

// DefaultNotificationPreferences enables everything.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		Email:             true,
		TaskAssignments:   true,
		DeadlineReminders: true,
		Mentions:          true,
		TeamUpdates:       true,
	}
}

// User represents a user account
type User struct {
	ID                      string `db:"id" json:"id"`
	Name                    string `db:"name" json:"name"`
	Email                   string `db:"email" json:"email"`
	PasswordHash            string `db:"password_hash" json:"-"`
	Role                    string `db:"role" json:"role"`
	TeamRole                string `db:"team_role" json:"teamRole,omitempty"`
	AvatarURL               string `db:"avatar_url" json:"avatarUrl,omitempty"`
	NotificationPreferences `json:"notificationPreferences"`
	TOTPSecret              string     `db:"totp_secret" json:"-"`
	TOTPEnabled             bool       `db:"totp_enabled" json:"totpEnabled"`
	LastActive              *time.Time `db:"last_active" json:"lastActive,omitempty"`
	LastLogin               *time.Time `db:"last_login" json:"lastLogin,omitempty"`
	LastLogout              *time.Time `db:"last_logout" json:"lastLogout,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updatedAt"`
}

var userColumns = []string{
	"id", "name", "email", "password_hash", "role", "team_role", "avatar_url",
	"notify_email", "notify_task_assignments", "notify_deadline_reminders",
	"notify_mentions", "notify_team_updates", "totp_secret", "totp_enabled",
	"last_active", "last_login", "last_logout", "created_at", "updated_at",
}

// UserUpdate carries the profile fields a user may change; nil leaves the
// column untouched.
type UserUpdate struct {
	Name                    *string
	AvatarURL               *string
	NotificationPreferences *NotificationPreferences
}

// NormalizeEmail is the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u, assigning its ID and timestamps. A duplicate email,
// compared case-insensitively, is a conflict.
func (q *Queries) CreateUser(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = RoleMember
	}

	if _, err := q.GetUserByEmail(ctx, u.Email); err == nil {
		return apperr.Conflict("user with this email already exists")
	} else if !apperr.IsNotFound(err) {
		return err
	}

	u.ID = newID()
	u.CreatedAt = now()
	u.UpdatedAt = u.CreatedAt
	p := u.NotificationPreferences

	_, err := q.exec(ctx, q.sb.Insert("users").
		Columns(
			"id", "name", "email", "password_hash", "role", "team_role", "avatar_url",
			"notify_email", "notify_task_assignments", "notify_deadline_reminders",
			"notify_mentions", "notify_team_updates", "totp_secret", "totp_enabled",
			"created_at", "updated_at",
		).
		Values(
			u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.TeamRole, u.AvatarURL,
			p.Email, p.TaskAssignments, p.DeadlineReminders,
			p.Mentions, p.TeamUpdates, u.TOTPSecret, u.TOTPEnabled,
			u.CreatedAt, u.UpdatedAt,
		), "user")
	if apperr.IsConflict(err) {
		return apperr.Conflict("user with this email already exists")
	}
	return err
}

// GetUserByID retrieves a user by ID
func (q *Queries) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := q.get(ctx, &u, q.sb.Select(userColumns...).
		From(q.table("users")).
		Where(entsql.EQ("id", id)), "user")
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := q.get(ctx, &u, q.sb.Select(userColumns...).
		From(q.table("users")).
		Where(entsql.EQ("email", NormalizeEmail(email))), "user")
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CountUsers returns the number of accounts.
func (q *Queries) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).From(q.table("users")), "user")
	return n, err
}

// ListUsers returns every user ordered by name.
func (q *Queries) ListUsers(ctx context.Context) ([]User, error) {
	users := []User{}
	err := q.list(ctx, &users, q.sb.Select(userColumns...).
		From(q.table("users")).
		OrderBy("name"), "user")
	return users, err
}

// ListUsersByIDs returns the users with the given IDs. Unknown IDs are
// skipped.
func (q *Queries) ListUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	users := []User{}
	if len(ids) == 0 {
		return users, nil
	}
	err := q.list(ctx, &users, q.sb.Select(userColumns...).
		From(q.table("users")).
		Where(entsql.In("id", anySlice(ids)...)).
		OrderBy("name"), "user")
	return users, err
}

// UpdateUser applies a partial profile update and returns the fresh record.
func (q *Queries) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	b := q.sb.Update("users").Set("updated_at", now())
	if upd.Name != nil {
		b.Set("name", *upd.Name)
	}
	if upd.AvatarURL != nil {
		b.Set("avatar_url", *upd.AvatarURL)
	}
	if p := upd.NotificationPreferences; p != nil {
		b.Set("notify_email", p.Email).
			Set("notify_task_assignments", p.TaskAssignments).
			Set("notify_deadline_reminders", p.DeadlineReminders).
			Set("notify_mentions", p.Mentions).
			Set("notify_team_updates", p.TeamUpdates)
	}
	if err := q.execOne(ctx, b.Where(entsql.EQ("id", id)), "user"); err != nil {
		return nil, err
	}
	return q.GetUserByID(ctx, id)
}

func (q *Queries) setUserColumn(ctx context.Context, id, column string, value any) error {
	return q.execOne(ctx, q.sb.Update("users").
		Set(column, value).
		Set("updated_at", now()).
		Where(entsql.EQ("id", id)), "user")
}

// SetUserRole changes the global role (admin or member).
func (q *Queries) SetUserRole(ctx context.Context, id, role string) error {
	return q.setUserColumn(ctx, id, "role", role)
}

// SetUserTeamRole records the user's role in their team; "" clears it.
func (q *Queries) SetUserTeamRole(ctx context.Context, id, teamRole string) error {
	return q.setUserColumn(ctx, id, "team_role", teamRole)
}

// SetPasswordHash replaces the stored bcrypt hash.
func (q *Queries) SetPasswordHash(ctx context.Context, id, hash string) error {
	return q.setUserColumn(ctx, id, "password_hash", hash)
}

// SetTOTP stores the TOTP secret and whether the second factor is active.
func (q *Queries) SetTOTP(ctx context.Context, id, secret string, enabled bool) error {
	return q.execOne(ctx, q.sb.Update("users").
		Set("totp_secret", secret).
		Set("totp_enabled", enabled).
		Set("updated_at", now()).
		Where(entsql.EQ("id", id)), "user")
}

// TouchLogin records a successful login.
func (q *Queries) TouchLogin(ctx context.Context, id string) (time.Time, error) {
	t := now()
	err := q.execOne(ctx, q.sb.Update("users").
		Set("last_login", t).
		Set("last_active", t).
		Where(entsql.EQ("id", id)), "user")
	return t, err
}

// TouchLogout records a logout.
func (q *Queries) TouchLogout(ctx context.Context, id string) error {
	return q.execOne(ctx, q.sb.Update("users").
		Set("last_logout", now()).
		Where(entsql.EQ("id", id)), "user")
}

// TouchActive bumps last_active.
func (q *Queries) TouchActive(ctx context.Context, id string) error {
	return q.execOne(ctx, q.sb.Update("users").
		Set("last_active", now()).
		Where(entsql.EQ("id", id)), "user")
}
