package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/notify"
)

// CreateTeamRequest represents the request to create a team
type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// TeamMemberResponse is a membership joined with the member's profile
type TeamMemberResponse struct {
	db.TeamMember
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// SetTeamRoleRequest changes a member's role
type SetTeamRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=team_leader member"`
}

// InviteRequest invites an email address into a team
type InviteRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"omitempty,oneof=team_leader member"`
}

// InvitationResponse adds the shareable accept link to an invitation. The
// link is only returned to the inviter.
type InvitationResponse struct {
	db.TeamInvitation
	InviteURL string `json:"inviteUrl,omitempty"`
}

// InvitationPreview is what an invitee sees before signing in
type InvitationPreview struct {
	TeamName  string    `json:"teamName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
}

// AcceptByTokenRequest accepts an invitation from its emailed token
type AcceptByTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// JoinRequestBody is the payload of a join request
type JoinRequestBody struct {
	Message string `json:"message" validate:"max=1000"`
}

// LeaveRequestBody is the payload of a leave request
type LeaveRequestBody struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// HandleCreateTeam creates a team led by the caller
func (s *Server) HandleCreateTeam(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateTeamRequest
	if !decodeValid(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team := &db.Team{Name: name, Description: req.Description, CreatedBy: user.ID}
	if err := s.db.CreateTeam(ctx, team); err != nil {
		s.respondAppError(w, err, "failed to create team")
		return
	}

	s.logger.Info("Team created", zap.String("team_id", team.ID), zap.String("user_id", user.ID))
	respondJSON(w, http.StatusCreated, team)
}

// HandleListTeams lists the caller's teams. Admins, and anyone passing
// ?all=true to find a team to join, get every team.
func (s *Server) HandleListTeams(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	ctx, cancel := s.queryContext(r)
	defer cancel()

	var (
		teams []db.Team
		err   error
	)
	if all || isAdmin(user) {
		teams, err = s.db.ListTeams(ctx)
	} else {
		teams, err = s.db.ListTeamsForUser(ctx, user.ID)
	}
	if err != nil {
		s.respondAppError(w, err, "failed to list teams")
		return
	}
	respondJSON(w, http.StatusOK, teams)
}

// HandleGetTeam returns a single team
func (s *Server) HandleGetTeam(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, err := s.db.GetTeam(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to get team")
		return
	}
	respondJSON(w, http.StatusOK, team)
}

// HandleListTeamMembers lists the members of a team the caller belongs to
func (s *Server) HandleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), false)
	if err != nil {
		s.respondAppError(w, err, "failed to list team members")
		return
	}
	members, err := s.db.ListTeamMembers(ctx, team.ID)
	if err != nil {
		s.respondAppError(w, err, "failed to list team members")
		return
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		s.respondAppError(w, err, "failed to list team members")
		return
	}
	byID := make(map[string]db.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	resp := make([]TeamMemberResponse, 0, len(members))
	for _, m := range members {
		u := byID[m.UserID]
		resp = append(resp, TeamMemberResponse{TeamMember: m, Name: u.Name, Email: u.Email, AvatarURL: u.AvatarURL})
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleRemoveTeamMember removes a member. Leader or admin; the last leader
// cannot be removed.
func (s *Server) HandleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	memberID := chi.URLParam(r, "userId")

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), true)
	if err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}
	member, err := s.db.GetTeamMember(ctx, team.ID, memberID)
	if err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}
	if err := s.keepOneLeader(ctx, team.ID, member); err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}

	if err := s.db.RemoveTeamMember(ctx, team.ID, memberID); err != nil {
		s.respondAppError(w, err, "failed to remove member")
		return
	}
	s.logTeamActivity(ctx, team.ID, user.ID, db.ActivityMemberLeft,
		user.Name+" removed a member from "+team.Name,
		notify.Entity{Type: "user", ID: memberID})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Member removed"})
}

// HandleSetTeamMemberRole promotes or demotes a member. Leader or admin.
func (s *Server) HandleSetTeamMemberRole(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	memberID := chi.URLParam(r, "userId")

	var req SetTeamRoleRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), true)
	if err != nil {
		s.respondAppError(w, err, "failed to update member")
		return
	}
	member, err := s.db.GetTeamMember(ctx, team.ID, memberID)
	if err != nil {
		s.respondAppError(w, err, "failed to update member")
		return
	}
	if req.Role == db.TeamRoleMember {
		if err := s.keepOneLeader(ctx, team.ID, member); err != nil {
			s.respondAppError(w, err, "failed to update member")
			return
		}
	}

	if err := s.db.SetTeamMemberRole(ctx, team.ID, memberID, req.Role); err != nil {
		s.respondAppError(w, err, "failed to update member")
		return
	}
	member.Role = req.Role
	respondJSON(w, http.StatusOK, member)
}

// HandleInviteToTeam creates an invitation. Leader or admin. A registered
// invitee also gets a notification.
func (s *Server) HandleInviteToTeam(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req InviteRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), true)
	if err != nil {
		s.respondAppError(w, err, "failed to invite")
		return
	}

	invitee, err := s.db.GetUserByEmail(ctx, req.Email)
	if err != nil && !apperr.IsNotFound(err) {
		s.respondAppError(w, err, "failed to invite")
		return
	}
	if invitee != nil {
		if _, err := s.db.GetTeamMember(ctx, team.ID, invitee.ID); err == nil {
			respondError(w, http.StatusConflict, "user is already a member of this team", "conflict")
			return
		}
	}

	inv := &db.TeamInvitation{TeamID: team.ID, Email: req.Email, Role: req.Role, InvitedBy: user.ID}
	if err := s.db.CreateInvitation(ctx, inv); err != nil {
		s.respondAppError(w, err, "failed to invite")
		return
	}

	link := "/invitations/accept?token=" + url.QueryEscape(inv.Token)
	if invitee != nil {
		s.sendNotice(ctx, notify.Notice{
			UserID:  invitee.ID,
			Type:    db.NotifyTeamInvitation,
			Title:   "Team invitation",
			Message: user.Name + " invited you to join " + team.Name,
			Payload: map[string]any{"teamId": team.ID, "invitationId": inv.ID},
			RefID:   inv.ID,
			Link:    link,
		})
	}

	respondJSON(w, http.StatusCreated, InvitationResponse{
		TeamInvitation: *inv,
		InviteURL:      strings.TrimRight(s.config.BaseURL, "/") + link,
	})
}

// HandleListMyInvitations lists the pending invitations for the caller's
// email address
func (s *Server) HandleListMyInvitations(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	invs, err := s.db.ListPendingInvitationsForEmail(ctx, user.Email)
	if err != nil {
		s.respondAppError(w, err, "failed to list invitations")
		return
	}
	respondJSON(w, http.StatusOK, invs)
}

// HandleAcceptInvitation joins the team of an invitation addressed to the
// caller
func (s *Server) HandleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	inv, err := s.db.GetInvitation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to accept invitation")
		return
	}
	s.acceptInvitation(ctx, w, currentUser(r), inv)
}

// HandleAcceptInvitationByToken accepts an invitation from its emailed token
func (s *Server) HandleAcceptInvitationByToken(w http.ResponseWriter, r *http.Request) {
	var req AcceptByTokenRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	inv, err := s.db.GetInvitationByToken(ctx, req.Token)
	if err != nil {
		s.respondAppError(w, err, "failed to accept invitation")
		return
	}
	s.acceptInvitation(ctx, w, currentUser(r), inv)
}

// HandleDeclineInvitation declines an invitation addressed to the caller
func (s *Server) HandleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	inv, err := s.db.GetInvitation(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to decline invitation")
		return
	}
	if inv.Email != db.NormalizeEmail(user.Email) {
		respondError(w, http.StatusForbidden, "this invitation is not addressed to you", "forbidden")
		return
	}
	if err := s.db.RespondInvitation(ctx, inv.ID, db.StatusDeclined); err != nil {
		s.respondAppError(w, err, "failed to decline invitation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Invitation declined"})
}

// HandleInvitationByToken previews an invitation without signing in
func (s *Server) HandleInvitationByToken(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "token is required", "validation_error")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	inv, err := s.db.GetInvitationByToken(ctx, token)
	if err != nil {
		s.respondAppError(w, err, "failed to load invitation")
		return
	}
	team, err := s.db.GetTeam(ctx, inv.TeamID)
	if err != nil {
		s.respondAppError(w, err, "failed to load invitation")
		return
	}
	respondJSON(w, http.StatusOK, InvitationPreview{
		TeamName:  team.Name,
		Email:     inv.Email,
		Role:      inv.Role,
		Status:    inv.Status,
		ExpiresAt: inv.ExpiresAt,
		Expired:   inv.Expired(time.Now()),
	})
}

func (s *Server) acceptInvitation(ctx context.Context, w http.ResponseWriter, user *db.User, inv *db.TeamInvitation) {
	if inv.Email != db.NormalizeEmail(user.Email) {
		respondError(w, http.StatusForbidden, "this invitation is not addressed to you", "forbidden")
		return
	}
	if inv.Status != db.StatusPending {
		respondError(w, http.StatusConflict, "invitation has already been answered", "conflict")
		return
	}
	if inv.Expired(time.Now()) {
		respondError(w, http.StatusBadRequest, "invitation has expired", "invitation_expired")
		return
	}

	err := s.db.InTx(ctx, func(tx *db.Tx) error {
		if err := tx.RespondInvitation(ctx, inv.ID, db.StatusAccepted); err != nil {
			return err
		}
		return tx.AddTeamMember(ctx, inv.TeamID, user.ID, inv.Role)
	})
	if err != nil {
		s.respondAppError(w, err, "failed to accept invitation")
		return
	}

	team, err := s.db.GetTeam(ctx, inv.TeamID)
	if err != nil {
		s.respondAppError(w, err, "failed to accept invitation")
		return
	}
	s.logTeamActivity(ctx, team.ID, user.ID, db.ActivityMemberJoined,
		user.Name+" joined "+team.Name,
		notify.Entity{Type: "team", ID: team.ID, Name: team.Name})
	respondJSON(w, http.StatusOK, team)
}

// HandleCreateJoinRequest asks to join a team and notifies its leaders
func (s *Server) HandleCreateJoinRequest(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req JoinRequestBody
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, err := s.db.GetTeam(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to request to join")
		return
	}
	if _, err := s.db.GetTeamMember(ctx, team.ID, user.ID); err == nil {
		respondError(w, http.StatusConflict, "you are already a member of this team", "conflict")
		return
	}

	jr := &db.JoinRequest{TeamID: team.ID, UserID: user.ID, Message: req.Message}
	if err := s.db.CreateJoinRequest(ctx, jr); err != nil {
		s.respondAppError(w, err, "failed to request to join")
		return
	}

	s.notifyLeaders(ctx, team, user.ID, notify.Notice{
		Type:    db.NotifyJoinRequest,
		Title:   "Join request",
		Message: user.Name + " asked to join " + team.Name,
		Payload: map[string]any{"teamId": team.ID, "requestId": jr.ID},
		RefID:   jr.ID,
		Link:    "/teams/" + team.ID + "/requests",
	})
	respondJSON(w, http.StatusCreated, jr)
}

// HandleListJoinRequests lists a team's join requests. Leader or admin;
// ?status= filters.
func (s *Server) HandleListJoinRequests(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), true)
	if err != nil {
		s.respondAppError(w, err, "failed to list join requests")
		return
	}
	reqs, err := s.db.ListJoinRequests(ctx, team.ID, r.URL.Query().Get("status"))
	if err != nil {
		s.respondAppError(w, err, "failed to list join requests")
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

// HandleApproveJoinRequest admits the requester
func (s *Server) HandleApproveJoinRequest(w http.ResponseWriter, r *http.Request) {
	s.respondJoinRequest(w, r, db.StatusAccepted)
}

// HandleDeclineJoinRequest turns the requester down
func (s *Server) HandleDeclineJoinRequest(w http.ResponseWriter, r *http.Request) {
	s.respondJoinRequest(w, r, db.StatusDeclined)
}

func (s *Server) respondJoinRequest(w http.ResponseWriter, r *http.Request, status string) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	jr, err := s.db.GetJoinRequest(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to answer join request")
		return
	}
	team, _, err := s.teamFor(ctx, user, jr.TeamID, true)
	if err != nil {
		s.respondAppError(w, err, "failed to answer join request")
		return
	}

	err = s.db.InTx(ctx, func(tx *db.Tx) error {
		if err := tx.RespondJoinRequest(ctx, jr.ID, status, user.ID); err != nil {
			return err
		}
		if status != db.StatusAccepted {
			return nil
		}
		return tx.AddTeamMember(ctx, team.ID, jr.UserID, db.TeamRoleMember)
	})
	if err != nil {
		s.respondAppError(w, err, "failed to answer join request")
		return
	}

	verb := "declined"
	if status == db.StatusAccepted {
		verb = "approved"
		s.logTeamActivity(ctx, team.ID, jr.UserID, db.ActivityMemberJoined,
			"A new member joined "+team.Name,
			notify.Entity{Type: "team", ID: team.ID, Name: team.Name})
	}
	s.sendNotice(ctx, notify.Notice{
		UserID:  jr.UserID,
		Type:    db.NotifyJoinResponse,
		Title:   "Join request " + verb,
		Message: "Your request to join " + team.Name + " was " + verb,
		Payload: map[string]any{"teamId": team.ID, "requestId": jr.ID, "status": status},
		RefID:   jr.ID,
	})

	jr.Status = status
	jr.ReviewedBy = user.ID
	respondJSON(w, http.StatusOK, jr)
}

// HandleCreateLeaveRequest asks to leave a team and notifies its leaders
func (s *Server) HandleCreateLeaveRequest(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req LeaveRequestBody
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, err := s.db.GetTeam(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to request to leave")
		return
	}
	if _, err := s.db.GetTeamMember(ctx, team.ID, user.ID); err != nil {
		if apperr.IsNotFound(err) {
			respondError(w, http.StatusBadRequest, "you are not a member of this team", "validation_error")
			return
		}
		s.respondAppError(w, err, "failed to request to leave")
		return
	}

	lr := &db.LeaveRequest{TeamID: team.ID, UserID: user.ID, Reason: req.Reason}
	if err := s.db.CreateLeaveRequest(ctx, lr); err != nil {
		s.respondAppError(w, err, "failed to request to leave")
		return
	}

	s.notifyLeaders(ctx, team, user.ID, notify.Notice{
		Type:    db.NotifyLeaveRequest,
		Title:   "Leave request",
		Message: user.Name + " asked to leave " + team.Name,
		Payload: map[string]any{"teamId": team.ID, "requestId": lr.ID},
		RefID:   lr.ID,
		Link:    "/teams/" + team.ID + "/requests",
	})
	respondJSON(w, http.StatusCreated, lr)
}

// HandleListLeaveRequests lists a team's leave requests. Leader or admin.
func (s *Server) HandleListLeaveRequests(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), true)
	if err != nil {
		s.respondAppError(w, err, "failed to list leave requests")
		return
	}
	reqs, err := s.db.ListLeaveRequests(ctx, team.ID, r.URL.Query().Get("status"))
	if err != nil {
		s.respondAppError(w, err, "failed to list leave requests")
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

// HandleApproveLeaveRequest releases the member
func (s *Server) HandleApproveLeaveRequest(w http.ResponseWriter, r *http.Request) {
	s.respondLeaveRequest(w, r, db.StatusAccepted)
}

// HandleDeclineLeaveRequest keeps the member
func (s *Server) HandleDeclineLeaveRequest(w http.ResponseWriter, r *http.Request) {
	s.respondLeaveRequest(w, r, db.StatusDeclined)
}

func (s *Server) respondLeaveRequest(w http.ResponseWriter, r *http.Request, status string) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	lr, err := s.db.GetLeaveRequest(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, err, "failed to answer leave request")
		return
	}
	team, _, err := s.teamFor(ctx, user, lr.TeamID, true)
	if err != nil {
		s.respondAppError(w, err, "failed to answer leave request")
		return
	}
	if status == db.StatusAccepted {
		member, err := s.db.GetTeamMember(ctx, team.ID, lr.UserID)
		if err != nil {
			s.respondAppError(w, err, "failed to answer leave request")
			return
		}
		if err := s.keepOneLeader(ctx, team.ID, member); err != nil {
			s.respondAppError(w, err, "failed to answer leave request")
			return
		}
	}

	err = s.db.InTx(ctx, func(tx *db.Tx) error {
		if err := tx.RespondLeaveRequest(ctx, lr.ID, status, user.ID); err != nil {
			return err
		}
		if status != db.StatusAccepted {
			return nil
		}
		return tx.RemoveTeamMember(ctx, team.ID, lr.UserID)
	})
	if err != nil {
		s.respondAppError(w, err, "failed to answer leave request")
		return
	}

	verb := "declined"
	if status == db.StatusAccepted {
		verb = "approved"
		s.logTeamActivity(ctx, team.ID, lr.UserID, db.ActivityMemberLeft,
			"A member left "+team.Name,
			notify.Entity{Type: "team", ID: team.ID, Name: team.Name})
	}
	s.sendNotice(ctx, notify.Notice{
		UserID:  lr.UserID,
		Type:    db.NotifyLeaveResponse,
		Title:   "Leave request " + verb,
		Message: "Your request to leave " + team.Name + " was " + verb,
		Payload: map[string]any{"teamId": team.ID, "requestId": lr.ID, "status": status},
		RefID:   lr.ID,
	})

	lr.Status = status
	lr.ReviewedBy = user.ID
	respondJSON(w, http.StatusOK, lr)
}

// HandleListTeamActivity pages through a team's activity log
func (s *Server) HandleListTeamActivity(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = min(n, 200)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "offset must be a non-negative integer", "validation_error")
			return
		}
		offset = n
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	team, _, err := s.teamFor(ctx, user, chi.URLParam(r, "id"), false)
	if err != nil {
		s.respondAppError(w, err, "failed to list activity")
		return
	}
	logs, err := s.db.ListActivityLogs(ctx, team.ID, limit, offset)
	if err != nil {
		s.respondAppError(w, err, "failed to list activity")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// teamFor loads a team the user belongs to. With leader set, the user must
// lead it. Admins pass both checks with a nil membership.
func (s *Server) teamFor(ctx context.Context, u *db.User, teamID string, leader bool) (*db.Team, *db.TeamMember, error) {
	team, err := s.db.GetTeam(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.db.GetTeamMember(ctx, team.ID, u.ID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, nil, err
	}
	if isAdmin(u) {
		return team, member, nil
	}
	if member == nil {
		return nil, nil, apperr.Forbidden("you are not a member of this team")
	}
	if leader && member.Role != db.TeamRoleLeader {
		return nil, nil, apperr.Forbidden("only a team leader can do this")
	}
	return team, member, nil
}

// keepOneLeader refuses to remove or demote the team's only leader.
func (s *Server) keepOneLeader(ctx context.Context, teamID string, member *db.TeamMember) error {
	if member.Role != db.TeamRoleLeader {
		return nil
	}
	leaders, err := s.db.ListTeamLeaders(ctx, teamID)
	if err != nil {
		return err
	}
	if len(leaders) <= 1 {
		return apperr.Validation("a team needs at least one leader")
	}
	return nil
}

func (s *Server) notifyLeaders(ctx context.Context, team *db.Team, skip string, n notify.Notice) {
	leaders, err := s.db.ListTeamLeaders(ctx, team.ID)
	if err != nil {
		s.logger.Warn("Failed to list team leaders", zap.String("team_id", team.ID), zap.Error(err))
		return
	}
	s.notifier.NotifyAll(ctx, leaders, skip, n)
}
