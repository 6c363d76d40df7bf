package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackflow/internal/apperr"
	"trackflow/internal/db"
	"trackflow/internal/storage"
)

// multipartSlack covers boundaries and headers around the file part.
const multipartSlack = 64 << 10

// maxFieldSize bounds the plain form fields sent next to a file.
const maxFieldSize = 4 << 10

// FileResponse is a file record with its download URL
type FileResponse struct {
	db.File
	URL string `json:"url"`
}

// DeleteFilesRequest removes several files at once
type DeleteFilesRequest struct {
	Files []FileRef `json:"files" validate:"required,min=1,max=100,dive"`
}

// FileRef names a stored file
type FileRef struct {
	Category string `json:"category" validate:"required,oneof=avatars attachments reports"`
	Filename string `json:"filename" validate:"required"`
}

func toFileResponse(f db.File) FileResponse {
	return FileResponse{File: f, URL: storage.URL(f.Category, f.Filename)}
}

// receiveUpload streams the "file" part of a multipart body into the store
// and records it. Plain fields must precede the file part; projectId, taskId
// and teamId associate the file and are access checked. An empty category
// is read from the "category" query parameter or field.
func (s *Server) receiveUpload(ctx context.Context, r *http.Request, category string, user *db.User) (*db.File, error) {
	if s.storage == nil {
		return nil, errors.New("file storage is not configured")
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Validation("expected a multipart/form-data body")
	}

	fields := map[string]string{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("file is required")
		}
		if err != nil {
			return nil, apperr.Validation("malformed multipart body")
		}

		if part.FormName() != "file" || part.FileName() == "" {
			b, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			part.Close()
			if err != nil {
				return nil, apperr.Validation("malformed multipart body")
			}
			fields[part.FormName()] = strings.TrimSpace(string(b))
			continue
		}

		if category == "" {
			category = r.URL.Query().Get("category")
		}
		if category == "" {
			category = fields["category"]
		}
		if category == "" {
			category = storage.Attachments
		}

		rec := &db.File{OwnerID: user.ID}
		if err := s.resolveFileScope(ctx, user, rec, fields); err != nil {
			part.Close()
			return nil, err
		}

		size := int64(-1)
		if rule, ok := storage.Rules[category]; ok && r.ContentLength > rule.MaxSize+multipartSlack {
			size = r.ContentLength
		}
		saved, err := s.storage.Save(category, part.FileName(), part.Header.Get("Content-Type"), size, part)
		part.Close()
		if err != nil {
			return nil, err
		}

		rec.Category = saved.Category
		rec.Filename = saved.Filename
		rec.OriginalName = saved.OriginalName
		rec.MimeType = saved.MimeType
		rec.Size = saved.Size
		if err := s.db.CreateFile(ctx, rec); err != nil {
			if _, derr := s.storage.Delete(saved.Category, saved.Filename); derr != nil {
				s.logger.Warn("Failed to remove orphaned upload", zap.String("filename", saved.Filename), zap.Error(derr))
			}
			return nil, err
		}
		return rec, nil
	}
}

// resolveFileScope fills the project, task and team associations from the
// form fields after checking the uploader may use them.
func (s *Server) resolveFileScope(ctx context.Context, user *db.User, rec *db.File, fields map[string]string) error {
	if taskID := fields["taskId"]; taskID != "" {
		task, _, err := s.taskFor(ctx, user, taskID)
		if err != nil {
			return err
		}
		rec.TaskID = task.ID
		rec.ProjectID = task.ProjectID
	}
	if projectID := fields["projectId"]; projectID != "" && rec.ProjectID == "" {
		p, err := s.projectFor(ctx, user, projectID)
		if err != nil {
			return err
		}
		rec.ProjectID = p.ID
	}
	if teamID := fields["teamId"]; teamID != "" {
		if _, err := s.db.GetTeamMember(ctx, teamID, user.ID); err != nil && !isAdmin(user) {
			if apperr.IsNotFound(err) {
				return apperr.Forbidden("you are not a member of this team")
			}
			return err
		}
		rec.TeamID = teamID
	}
	return nil
}

// removeUpload deletes a stored file and its record, logging failures.
func (s *Server) removeUpload(ctx context.Context, category, filename string) {
	if filename == "" {
		return
	}
	if err := s.db.DeleteFileRecord(ctx, category, filename); err != nil && !apperr.IsNotFound(err) {
		s.logger.Warn("Failed to delete file record", zap.String("filename", filename), zap.Error(err))
	}
	s.removeBlobs([]db.File{{Category: category, Filename: filename}})
}

// removeBlobs deletes stored files whose records are already gone.
func (s *Server) removeBlobs(files []db.File) {
	if s.storage == nil {
		return
	}
	for _, f := range files {
		if _, err := s.storage.Delete(f.Category, f.Filename); err != nil {
			s.logger.Warn("Failed to delete stored file",
				zap.String("category", f.Category),
				zap.String("filename", f.Filename),
				zap.Error(err))
		}
	}
}

// canReadFile: avatars are visible to every signed-in user; other files to
// their owner, admins, and whoever can see the project or belongs to the
// team they are attached to.
func (s *Server) canReadFile(ctx context.Context, user *db.User, f *db.File) (bool, error) {
	if f.Category == storage.Avatars || f.OwnerID == user.ID || isAdmin(user) {
		return true, nil
	}
	if f.ProjectID != "" {
		_, err := s.projectFor(ctx, user, f.ProjectID)
		switch {
		case err == nil:
			return true, nil
		case apperr.KindOf(err) != apperr.KindForbidden && !apperr.IsNotFound(err):
			return false, err
		}
	}
	if f.TeamID != "" {
		_, err := s.db.GetTeamMember(ctx, f.TeamID, user.ID)
		switch {
		case err == nil:
			return true, nil
		case !apperr.IsNotFound(err):
			return false, err
		}
	}
	return false, nil
}

// canDeleteFile: the owner, admins and the owner of the file's project.
func (s *Server) canDeleteFile(ctx context.Context, user *db.User, f *db.File) (bool, error) {
	if f.OwnerID == user.ID || isAdmin(user) {
		return true, nil
	}
	if f.ProjectID == "" {
		return false, nil
	}
	p, err := s.db.GetProject(ctx, f.ProjectID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return canManageProject(user, p), nil
}

// HandleUploadFile stores a file. The category comes from the query string
// or form and defaults to attachments.
func (s *Server) HandleUploadFile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	ctx, cancel := s.queryContext(r)
	defer cancel()

	rec, err := s.receiveUpload(ctx, r, "", user)
	if err != nil {
		s.respondAppError(w, err, "failed to upload file")
		return
	}

	s.logger.Info("File uploaded",
		zap.String("user_id", user.ID),
		zap.String("category", rec.Category),
		zap.String("filename", rec.Filename),
		zap.Int64("size", rec.Size))
	respondJSON(w, http.StatusCreated, toFileResponse(*rec))
}

// HandleListFiles lists files filtered by category, project, task or team.
// Without a project, task or team filter members see their own files.
func (s *Server) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	filter := db.FileFilter{
		Category:  q.Get("category"),
		ProjectID: q.Get("project"),
		TaskID:    q.Get("task"),
		TeamID:    q.Get("team"),
	}
	if filter.Category != "" {
		if _, ok := storage.Rules[filter.Category]; !ok {
			respondError(w, http.StatusBadRequest, "invalid file category", "validation_error")
			return
		}
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	switch {
	case isAdmin(user):
	case filter.TaskID != "":
		if _, _, err := s.taskFor(ctx, user, filter.TaskID); err != nil {
			s.respondAppError(w, err, "failed to list files")
			return
		}
	case filter.ProjectID != "":
		if _, err := s.projectFor(ctx, user, filter.ProjectID); err != nil {
			s.respondAppError(w, err, "failed to list files")
			return
		}
	case filter.TeamID != "":
		if _, err := s.db.GetTeamMember(ctx, filter.TeamID, user.ID); err != nil {
			if apperr.IsNotFound(err) {
				err = apperr.Forbidden("you are not a member of this team")
			}
			s.respondAppError(w, err, "failed to list files")
			return
		}
	default:
		filter.OwnerID = user.ID
	}

	files, err := s.db.ListFiles(ctx, filter)
	if err != nil {
		s.respondAppError(w, err, "failed to list files")
		return
	}

	resp := make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp = append(resp, toFileResponse(f))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleDeleteFiles removes several files. Files the caller may not delete
// or that do not exist are reported back, not treated as errors.
func (s *Server) HandleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req DeleteFilesRequest
	if !decodeValid(w, r, &req) {
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	deleted := 0
	failed := []FileRef{}
	for _, ref := range req.Files {
		f, err := s.db.GetFileByName(ctx, ref.Category, ref.Filename)
		if err != nil {
			if !apperr.IsNotFound(err) {
				s.respondAppError(w, err, "failed to delete files")
				return
			}
			failed = append(failed, ref)
			continue
		}
		ok, err := s.canDeleteFile(ctx, user, f)
		if err != nil {
			s.respondAppError(w, err, "failed to delete files")
			return
		}
		if !ok {
			failed = append(failed, ref)
			continue
		}
		s.removeUpload(ctx, f.Category, f.Filename)
		deleted++
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "failed": failed})
}

// HandleGetFile streams a stored file as an attachment
func (s *Server) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	category := chi.URLParam(r, "category")
	filename := chi.URLParam(r, "filename")

	if !storage.ValidName(category, filename) {
		respondError(w, http.StatusNotFound, "file not found", "not_found")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	rec, err := s.db.GetFileByName(ctx, category, filename)
	if err != nil {
		s.respondAppError(w, err, "failed to get file")
		return
	}
	ok, err := s.canReadFile(ctx, user, rec)
	if err != nil {
		s.respondAppError(w, err, "failed to get file")
		return
	}
	if !ok {
		respondError(w, http.StatusForbidden, "you do not have access to this file", "forbidden")
		return
	}

	if s.storage == nil {
		respondError(w, http.StatusNotFound, "file not found", "not_found")
		return
	}
	f, err := s.storage.Open(category, filename)
	if err != nil {
		s.respondAppError(w, err, "failed to read file")
		return
	}
	if f == nil {
		respondError(w, http.StatusNotFound, "file not found", "not_found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.respondAppError(w, err, "failed to read file")
		return
	}

	w.Header().Set("Content-Type", storage.ContentType(filename))
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// HandleDeleteFile removes one stored file and its record
func (s *Server) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	category := chi.URLParam(r, "category")
	filename := chi.URLParam(r, "filename")

	if !storage.ValidName(category, filename) {
		respondError(w, http.StatusNotFound, "file not found", "not_found")
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	rec, err := s.db.GetFileByName(ctx, category, filename)
	if err != nil {
		s.respondAppError(w, err, "failed to delete file")
		return
	}
	ok, err := s.canDeleteFile(ctx, user, rec)
	if err != nil {
		s.respondAppError(w, err, "failed to delete file")
		return
	}
	if !ok {
		respondError(w, http.StatusForbidden, "you cannot delete this file", "forbidden")
		return
	}

	s.removeUpload(ctx, category, filename)
	respondJSON(w, http.StatusOK, map[string]string{"message": "File deleted"})
}
