package db

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"trackflow/internal/apperr"
)

// Team groups users under one or more leaders.
type Team struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedBy   string    `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

var teamColumns = []string{"id", "name", "description", "created_by", "created_at", "updated_at"}

// TeamMember is a user's membership in a team.
type TeamMember struct {
	TeamID   string    `db:"team_id" json:"team"`
	UserID   string    `db:"user_id" json:"user"`
	Role     string    `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joinedAt"`
}

var teamMemberColumns = []string{"team_id", "user_id", "role", "joined_at"}

// CreateTeam inserts t and makes its creator the team leader.
func (db *DB) CreateTeam(ctx context.Context, t *Team) error {
	t.ID = newID()
	t.CreatedAt = now()
	t.UpdatedAt = t.CreatedAt

	return db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.exec(ctx, tx.sb.Insert("teams").
			Columns(teamColumns...).
			Values(t.ID, t.Name, t.Description, t.CreatedBy, t.CreatedAt, t.UpdatedAt), "team")
		if err != nil {
			return err
		}
		return tx.AddTeamMember(ctx, t.ID, t.CreatedBy, TeamRoleLeader)
	})
}

// GetTeam retrieves a team by ID
func (q *Queries) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := q.get(ctx, &t, q.sb.Select(teamColumns...).
		From(q.table("teams")).
		Where(entsql.EQ("id", id)), "team")
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTeams returns every team ordered by name.
func (q *Queries) ListTeams(ctx context.Context) ([]Team, error) {
	teams := []Team{}
	err := q.list(ctx, &teams, q.sb.Select(teamColumns...).
		From(q.table("teams")).
		OrderBy("name"), "team")
	return teams, err
}

// ListTeamsForUser returns the teams userID belongs to.
func (q *Queries) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var ids []string
	err := q.list(ctx, &ids, q.sb.Select("team_id").
		From(q.table("team_members")).
		Where(entsql.EQ("user_id", userID)), "team")
	if err != nil {
		return nil, err
	}

	teams := []Team{}
	err = q.list(ctx, &teams, q.sb.Select(teamColumns...).
		From(q.table("teams")).
		Where(inOrFalse("id", ids)).
		OrderBy("name"), "team")
	return teams, err
}

// AddTeamMember adds userID to the team with role and mirrors the role onto
// the user. Adding an existing member is a conflict.
func (q *Queries) AddTeamMember(ctx context.Context, teamID, userID, role string) error {
	if _, err := q.GetTeamMember(ctx, teamID, userID); err == nil {
		return apperr.Conflict("user is already a member of this team")
	} else if !apperr.IsNotFound(err) {
		return err
	}

	_, err := q.exec(ctx, q.sb.Insert("team_members").
		Columns(teamMemberColumns...).
		Values(teamID, userID, role, now()), "team member")
	if err != nil {
		return err
	}
	return q.SetUserTeamRole(ctx, userID, role)
}

// GetTeamMember returns userID's membership in the team.
func (q *Queries) GetTeamMember(ctx context.Context, teamID, userID string) (*TeamMember, error) {
	var m TeamMember
	err := q.get(ctx, &m, q.sb.Select(teamMemberColumns...).
		From(q.table("team_members")).
		Where(entsql.And(entsql.EQ("team_id", teamID), entsql.EQ("user_id", userID))), "team member")
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListTeamMembers returns a team's members, leaders first.
func (q *Queries) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	members := []TeamMember{}
	err := q.list(ctx, &members, q.sb.Select(teamMemberColumns...).
		From(q.table("team_members")).
		Where(entsql.EQ("team_id", teamID)).
		OrderBy(entsql.Desc("role"), "joined_at"), "team member")
	return members, err
}

// SetTeamMemberRole changes a member's role within the team.
func (q *Queries) SetTeamMemberRole(ctx context.Context, teamID, userID, role string) error {
	err := q.execOne(ctx, q.sb.Update("team_members").
		Set("role", role).
		Where(entsql.And(entsql.EQ("team_id", teamID), entsql.EQ("user_id", userID))), "team member")
	if err != nil {
		return err
	}
	return q.SetUserTeamRole(ctx, userID, role)
}

// RemoveTeamMember removes userID from the team. The user's team role falls
// back to their remaining membership, if any.
func (q *Queries) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	err := q.execOne(ctx, q.sb.Delete("team_members").
		Where(entsql.And(entsql.EQ("team_id", teamID), entsql.EQ("user_id", userID))), "team member")
	if err != nil {
		return err
	}

	var roles []string
	err = q.list(ctx, &roles, q.sb.Select("role").
		From(q.table("team_members")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("joined_at").
		Limit(1), "team member")
	if err != nil {
		return err
	}
	role := ""
	if len(roles) > 0 {
		role = roles[0]
	}
	return q.SetUserTeamRole(ctx, userID, role)
}

// GetUserTeamID returns the team userID joined first. A user without a team
// gets a NotFound error.
func (q *Queries) GetUserTeamID(ctx context.Context, userID string) (string, error) {
	var teamID string
	err := q.get(ctx, &teamID, q.sb.Select("team_id").
		From(q.table("team_members")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("joined_at").
		Limit(1), "team membership")
	return teamID, err
}

// ListTeamLeaders returns the user IDs of the team's leaders.
func (q *Queries) ListTeamLeaders(ctx context.Context, teamID string) ([]string, error) {
	leaders := []string{}
	err := q.list(ctx, &leaders, q.sb.Select("user_id").
		From(q.table("team_members")).
		Where(entsql.And(entsql.EQ("team_id", teamID), entsql.EQ("role", TeamRoleLeader))).
		OrderBy("joined_at"), "team member")
	return leaders, err
}

// ListLeadersOf returns the leaders of every team memberID belongs to,
// without duplicates.
func (q *Queries) ListLeadersOf(ctx context.Context, memberID string) ([]string, error) {
	var teamIDs []string
	err := q.list(ctx, &teamIDs, q.sb.Select("team_id").
		From(q.table("team_members")).
		Where(entsql.EQ("user_id", memberID)), "team member")
	if err != nil || len(teamIDs) == 0 {
		return []string{}, err
	}

	leaders := []string{}
	err = q.list(ctx, &leaders, q.sb.Select("user_id").
		Distinct().
		From(q.table("team_members")).
		Where(entsql.And(
			entsql.In("team_id", anySlice(teamIDs)...),
			entsql.EQ("role", TeamRoleLeader),
		)), "team member")
	return leaders, err
}

// ListTeammateIDs returns the users sharing at least one team with userID,
// userID included.
func (q *Queries) ListTeammateIDs(ctx context.Context, userID string) ([]string, error) {
	var teamIDs []string
	err := q.list(ctx, &teamIDs, q.sb.Select("team_id").
		From(q.table("team_members")).
		Where(entsql.EQ("user_id", userID)), "team member")
	if err != nil {
		return nil, err
	}
	if len(teamIDs) == 0 {
		return []string{userID}, nil
	}

	ids := []string{}
	err = q.list(ctx, &ids, q.sb.Select("user_id").
		Distinct().
		From(q.table("team_members")).
		Where(entsql.In("team_id", anySlice(teamIDs)...)), "team member")
	return ids, err
}

// IsTeamLeader reports whether userID leads the team.
func (q *Queries) IsTeamLeader(ctx context.Context, teamID, userID string) (bool, error) {
	m, err := q.GetTeamMember(ctx, teamID, userID)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Role == TeamRoleLeader, nil
}

// LeadsTeamOf reports whether leaderID leads a team memberID belongs to.
func (q *Queries) LeadsTeamOf(ctx context.Context, leaderID, memberID string) (bool, error) {
	var teamIDs []string
	err := q.list(ctx, &teamIDs, q.sb.Select("team_id").
		From(q.table("team_members")).
		Where(entsql.And(entsql.EQ("user_id", leaderID), entsql.EQ("role", TeamRoleLeader))), "team member")
	if err != nil || len(teamIDs) == 0 {
		return false, err
	}

	var n int
	err = q.get(ctx, &n, q.sb.Select(entsql.Count("*")).
		From(q.table("team_members")).
		Where(entsql.And(
			entsql.EQ("user_id", memberID),
			entsql.In("team_id", anySlice(teamIDs)...),
		)), "team member")
	return n > 0, err
}
