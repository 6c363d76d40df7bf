package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// InvitationTTL is how long an invitation token stays valid.
const InvitationTTL = 7 * 24 * time.Hour

// TeamInvitation invites an email address into a team.
type TeamInvitation struct {
	ID          string     `db:"id" json:"id"`
	TeamID      string     `db:"team_id" json:"team"`
	Email       string     `db:"email" json:"email"`
	Role        string     `db:"role" json:"role"`
	InvitedBy   string     `db:"invited_by" json:"invitedBy"`
	Token       string     `db:"token" json:"-"`
	Status      string     `db:"status" json:"status"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expiresAt"`
	RespondedAt *time.Time `db:"responded_at" json:"respondedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

var invitationColumns = []string{
	"id", "team_id", "email", "role", "invited_by", "token", "status",
	"expires_at", "responded_at", "created_at",
}

// Expired reports whether the invitation can no longer be accepted.
func (i *TeamInvitation) Expired(at time.Time) bool {
	return at.After(i.ExpiresAt)
}

// JoinRequest asks a team's leaders to admit a user.
type JoinRequest struct {
	ID          string     `db:"id" json:"id"`
	TeamID      string     `db:"team_id" json:"team"`
	UserID      string     `db:"user_id" json:"user"`
	Message     string     `db:"message" json:"message"`
	Status      string     `db:"status" json:"status"`
	ReviewedBy  string     `db:"reviewed_by" json:"reviewedBy,omitempty"`
	RespondedAt *time.Time `db:"responded_at" json:"respondedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

var joinRequestColumns = []string{
	"id", "team_id", "user_id", "message", "status", "reviewed_by", "responded_at", "created_at",
}

// LeaveRequest asks a team's leaders to release a member.
type LeaveRequest struct {
	ID          string     `db:"id" json:"id"`
	TeamID      string     `db:"team_id" json:"team"`
	UserID      string     `db:"user_id" json:"user"`
	Reason      string     `db:"reason" json:"reason"`
	Status      string     `db:"status" json:"status"`
	ReviewedBy  string     `db:"reviewed_by" json:"reviewedBy,omitempty"`
	RespondedAt *time.Time `db:"responded_at" json:"respondedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

var leaveRequestColumns = []string{
	"id", "team_id", "user_id", "reason", "status", "reviewed_by", "responded_at", "created_at",
}

func newInvitationToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateInvitation inserts inv with a fresh token. A pending invitation for
// the same email and team is a conflict.
func (q *Queries) CreateInvitation(ctx context.Context, inv *TeamInvitation) error {
	inv.Email = NormalizeEmail(inv.Email)

	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("team_invitations")).
		Where(entsql.And(
			entsql.EQ("team_id", inv.TeamID),
			entsql.EQ("email", inv.Email),
			entsql.EQ("status", StatusPending),
			entsql.GT("expires_at", now()),
		)), "invitation")
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("an invitation is already pending for this email")
	}

	if inv.Token, err = newInvitationToken(); err != nil {
		return err
	}
	inv.ID = newID()
	inv.CreatedAt = now()
	inv.ExpiresAt = inv.CreatedAt.Add(InvitationTTL)
	inv.Status = StatusPending
	if inv.Role == "" {
		inv.Role = TeamRoleMember
	}

	_, err = q.exec(ctx, q.sb.Insert("team_invitations").
		Columns(invitationColumns...).
		Values(
			inv.ID, inv.TeamID, inv.Email, inv.Role, inv.InvitedBy, inv.Token, inv.Status,
			inv.ExpiresAt, inv.RespondedAt, inv.CreatedAt,
		), "invitation")
	return err
}

// GetInvitation retrieves an invitation by ID
func (q *Queries) GetInvitation(ctx context.Context, id string) (*TeamInvitation, error) {
	var inv TeamInvitation
	err := q.get(ctx, &inv, q.sb.Select(invitationColumns...).
		From(q.table("team_invitations")).
		Where(entsql.EQ("id", id)), "invitation")
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvitationByToken retrieves an invitation by its emailed token.
func (q *Queries) GetInvitationByToken(ctx context.Context, token string) (*TeamInvitation, error) {
	var inv TeamInvitation
	err := q.get(ctx, &inv, q.sb.Select(invitationColumns...).
		From(q.table("team_invitations")).
		Where(entsql.EQ("token", token)), "invitation")
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListPendingInvitationsForEmail returns the unexpired pending invitations
// addressed to email.
func (q *Queries) ListPendingInvitationsForEmail(ctx context.Context, email string) ([]TeamInvitation, error) {
	invs := []TeamInvitation{}
	err := q.list(ctx, &invs, q.sb.Select(invitationColumns...).
		From(q.table("team_invitations")).
		Where(entsql.And(
			entsql.EQ("email", NormalizeEmail(email)),
			entsql.EQ("status", StatusPending),
			entsql.GT("expires_at", now()),
		)).
		OrderBy(entsql.Desc("created_at")), "invitation")
	return invs, err
}

// ListTeamInvitations returns every invitation of a team, newest first.
func (q *Queries) ListTeamInvitations(ctx context.Context, teamID string) ([]TeamInvitation, error) {
	invs := []TeamInvitation{}
	err := q.list(ctx, &invs, q.sb.Select(invitationColumns...).
		From(q.table("team_invitations")).
		Where(entsql.EQ("team_id", teamID)).
		OrderBy(entsql.Desc("created_at")), "invitation")
	return invs, err
}

// RespondInvitation moves a pending invitation to status. Only pending
// invitations can be answered.
func (q *Queries) RespondInvitation(ctx context.Context, id, status string) error {
	n, err := q.exec(ctx, q.sb.Update("team_invitations").
		Set("status", status).
		Set("responded_at", now()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", StatusPending))), "invitation")
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("invitation has already been answered")
	}
	return nil
}

// CreateJoinRequest inserts r. A second pending request from the same user
// to the same team is a conflict.
func (q *Queries) CreateJoinRequest(ctx context.Context, r *JoinRequest) error {
	pending, err := q.countPending(ctx, "join_requests", r.TeamID, r.UserID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return apperr.Conflict("a join request is already pending")
	}

	r.ID = newID()
	r.CreatedAt = now()
	r.Status = StatusPending
	_, err = q.exec(ctx, q.sb.Insert("join_requests").
		Columns(joinRequestColumns...).
		Values(r.ID, r.TeamID, r.UserID, r.Message, r.Status, r.ReviewedBy, r.RespondedAt, r.CreatedAt),
		"join request")
	return err
}

// GetJoinRequest retrieves a join request by ID
func (q *Queries) GetJoinRequest(ctx context.Context, id string) (*JoinRequest, error) {
	var r JoinRequest
	err := q.get(ctx, &r, q.sb.Select(joinRequestColumns...).
		From(q.table("join_requests")).
		Where(entsql.EQ("id", id)), "join request")
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListJoinRequests returns a team's join requests; status "" lists all.
func (q *Queries) ListJoinRequests(ctx context.Context, teamID, status string) ([]JoinRequest, error) {
	sel := q.sb.Select(joinRequestColumns...).
		From(q.table("join_requests")).
		Where(entsql.EQ("team_id", teamID))
	if status != "" {
		sel.Where(entsql.EQ("status", status))
	}
	reqs := []JoinRequest{}
	err := q.list(ctx, &reqs, sel.OrderBy(entsql.Desc("created_at")), "join request")
	return reqs, err
}

// RespondJoinRequest records a leader's decision on a pending request.
func (q *Queries) RespondJoinRequest(ctx context.Context, id, status, reviewerID string) error {
	return q.respondRequest(ctx, "join_requests", id, status, reviewerID)
}

// CreateLeaveRequest inserts r. A second pending request is a conflict.
func (q *Queries) CreateLeaveRequest(ctx context.Context, r *LeaveRequest) error {
	pending, err := q.countPending(ctx, "leave_requests", r.TeamID, r.UserID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return apperr.Conflict("a leave request is already pending")
	}

	r.ID = newID()
	r.CreatedAt = now()
	r.Status = StatusPending
	_, err = q.exec(ctx, q.sb.Insert("leave_requests").
		Columns(leaveRequestColumns...).
		Values(r.ID, r.TeamID, r.UserID, r.Reason, r.Status, r.ReviewedBy, r.RespondedAt, r.CreatedAt),
		"leave request")
	return err
}

// GetLeaveRequest retrieves a leave request by ID
func (q *Queries) GetLeaveRequest(ctx context.Context, id string) (*LeaveRequest, error) {
	var r LeaveRequest
	err := q.get(ctx, &r, q.sb.Select(leaveRequestColumns...).
		From(q.table("leave_requests")).
		Where(entsql.EQ("id", id)), "leave request")
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListLeaveRequests returns a team's leave requests; status "" lists all.
func (q *Queries) ListLeaveRequests(ctx context.Context, teamID, status string) ([]LeaveRequest, error) {
	sel := q.sb.Select(leaveRequestColumns...).
		From(q.table("leave_requests")).
		Where(entsql.EQ("team_id", teamID))
	if status != "" {
		sel.Where(entsql.EQ("status", status))
	}
	reqs := []LeaveRequest{}
	err := q.list(ctx, &reqs, sel.OrderBy(entsql.Desc("created_at")), "leave request")
	return reqs, err
}

// RespondLeaveRequest records a leader's decision on a pending request.
func (q *Queries) RespondLeaveRequest(ctx context.Context, id, status, reviewerID string) error {
	return q.respondRequest(ctx, "leave_requests", id, status, reviewerID)
}

func (q *Queries) countPending(ctx context.Context, table, teamID, userID string) (int, error) {
	var n int
	err := q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table(table)).
		Where(entsql.And(
			entsql.EQ("team_id", teamID),
			entsql.EQ("user_id", userID),
			entsql.EQ("status", StatusPending),
		)), "request")
	return n, err
}

func (q *Queries) respondRequest(ctx context.Context, table, id, status, reviewerID string) error {
	n, err := q.exec(ctx, q.sb.Update(table).
		Set("status", status).
		Set("reviewed_by", reviewerID).
		Set("responded_at", now()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", StatusPending))), "request")
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("request has already been answered")
	}
	return nil
}
