package api

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"trackflow/internal/db"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	snippetRadius      = 60
)

// SearchTaskResult represents a task in search results
type SearchTaskResult struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project"`
	ProjectTitle string `json:"projectTitle"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
}

// SearchProjectResult represents a project in search results
type SearchProjectResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

// SearchResponse represents the search response
type SearchResponse struct {
	Tasks    []SearchTaskResult    `json:"tasks"`
	Projects []SearchProjectResult `json:"projects"`
}

// HandleSearch matches ?q= against the titles and descriptions of the
// projects and tasks the caller can see. ?types=tasks,projects narrows the
// search and ?limit= caps each list.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required", "validation_error")
		return
	}

	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	searchTasks, searchProjects := true, true
	if v := q.Get("types"); v != "" {
		searchTasks, searchProjects = false, false
		for _, t := range strings.Split(v, ",") {
			switch strings.TrimSpace(t) {
			case "tasks":
				searchTasks = true
			case "projects":
				searchProjects = true
			default:
				respondError(w, http.StatusBadRequest, "types must be one of: tasks, projects", "validation_error")
				return
			}
		}
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	var (
		projects []db.Project
		err      error
	)
	if isAdmin(user) {
		projects, err = s.db.ListProjects(ctx)
	} else {
		projects, err = s.db.ListProjectsForUser(ctx, user.ID)
	}
	if err != nil {
		s.respondAppError(w, err, "failed to search")
		return
	}

	resp := SearchResponse{Tasks: []SearchTaskResult{}, Projects: []SearchProjectResult{}}
	if len(projects) == 0 {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	titles := make(map[string]string, len(projects))
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		titles[p.ID] = p.Title
		ids = append(ids, p.ID)
	}

	if searchProjects {
		for _, p := range projects {
			if len(resp.Projects) == limit {
				break
			}
			if !containsFold(p.Title, query) && !containsFold(p.Description, query) {
				continue
			}
			resp.Projects = append(resp.Projects, SearchProjectResult{
				ID:      p.ID,
				Title:   p.Title,
				Snippet: snippet(p.Description, query),
				Status:  p.Status,
			})
		}
	}

	if searchTasks {
		tasks, err := s.db.ListTasks(ctx, db.TaskFilter{ProjectIDs: ids, Query: query, Limit: limit})
		if err != nil {
			s.logger.Error("Failed to search tasks", zap.String("query", query), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to search tasks", "internal_error")
			return
		}
		for _, t := range tasks {
			resp.Tasks = append(resp.Tasks, SearchTaskResult{
				ID:           t.ID,
				ProjectID:    t.ProjectID,
				ProjectTitle: titles[t.ProjectID],
				Title:        t.Title,
				Snippet:      snippet(t.Description, query),
				Status:       t.Status,
				Priority:     t.Priority,
			})
		}
	}

	s.logger.Debug("Search",
		zap.String("user_id", user.ID),
		zap.String("query", query),
		zap.Int("tasks", len(resp.Tasks)),
		zap.Int("projects", len(resp.Projects)))
	respondJSON(w, http.StatusOK, resp)
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// snippet cuts text down to the neighbourhood of the first match, or its
// beginning when the match was in the title.
func snippet(text, query string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= 2*snippetRadius {
		return text
	}

	runes := []rune(text)
	at := 0
	if i := strings.Index(strings.ToLower(text), strings.ToLower(query)); i >= 0 {
		at = utf8.RuneCountInString(text[:i])
	}
	start := max(at-snippetRadius, 0)
	end := min(at+snippetRadius, len(runes))

	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
