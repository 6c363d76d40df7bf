package api

import (
	"context"
	"slices"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
)

func isAdmin(u *db.User) bool {
	return u != nil && u.Role == db.RoleAdmin
}

// canSeeProject: admins, the owner and members.
func canSeeProject(u *db.User, p *db.Project) bool {
	return isAdmin(u) || p.OwnerID == u.ID || slices.Contains(p.Members, u.ID)
}

// canManageProject: admins and the owner.
func canManageProject(u *db.User, p *db.Project) bool {
	return isAdmin(u) || p.OwnerID == u.ID
}

// projectFor loads a project the user may see.
func (s *Server) projectFor(ctx context.Context, u *db.User, projectID string) (*db.Project, error) {
	p, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !canSeeProject(u, p) {
		return nil, apperr.Forbidden("you do not have access to this project")
	}
	return p, nil
}

// taskFor loads a task together with its project, checking the user may see
// the project.
func (s *Server) taskFor(ctx context.Context, u *db.User, taskID string) (*db.Task, *db.Project, error) {
	t, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.projectFor(ctx, u, t.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

// visibleProjectIDs lists the projects u can see. It returns nil for admins,
// meaning no restriction.
func (s *Server) visibleProjectIDs(ctx context.Context, u *db.User) ([]string, error) {
	if isAdmin(u) {
		return nil, nil
	}
	projects, err := s.db.ListProjectsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
