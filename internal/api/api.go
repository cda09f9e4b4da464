package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/store"
	"github.com/trackd/trackd/internal/tracker"
)

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	tracker *tracker.Service
}

// NewServer creates a new API server around the shared tracker service.
func NewServer(s store.Store, svc *tracker.Service) *Server {
	return &Server{
		store:   s,
		tracker: svc,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("POST /api/v1/issues/bulk-status", s.bulkStatus)
	mux.HandleFunc("POST /api/v1/issues/import", s.importCSV)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PATCH /api/v1/issues/{id}", s.updateIssue)
	mux.HandleFunc("DELETE /api/v1/issues/{id}", s.deleteIssue)
	mux.HandleFunc("GET /api/v1/issues/{id}/comments", s.listComments)
	mux.HandleFunc("POST /api/v1/issues/{id}/comments", s.addComment)
	mux.HandleFunc("PUT /api/v1/issues/{id}/labels", s.replaceLabels)
	mux.HandleFunc("GET /api/v1/issues/{id}/timeline", s.timeline)

	mux.HandleFunc("GET /api/v1/labels", s.listLabels)

	mux.HandleFunc("GET /api/v1/users", s.listUsers)
	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.deleteUser)

	mux.HandleFunc("GET /api/v1/reports/top-assignees", s.topAssignees)
	mux.HandleFunc("GET /api/v1/reports/resolution-time", s.avgResolutionTime)

	return corsMiddleware(logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps core errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var bulkErr *tracker.BulkValidationError
	switch {
	case errors.As(err, &bulkErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "validation failed",
			"items": bulkErr.Items,
		})
	case errors.Is(err, tracker.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseDate accepts either a date (2006-01-02) or an RFC3339 timestamp.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.IssueListFilter{
		Status:     models.IssueStatus(q.Get("status")),
		AssigneeID: q.Get("assignee"),
		Label:      q.Get("label"),
		Search:     q.Get("search"),
	}
	if v := q.Get("created_from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid created_from")
			return
		}
		filter.CreatedFrom = t
	}
	if v := q.Get("created_to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid created_to")
			return
		}
		filter.CreatedTo = t
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Status      string `json:"status"`
		AssigneeID  string `json:"assignee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issue, err := s.tracker.CreateIssue(r.Context(), tracker.CreateIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.IssueStatus(req.Status),
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		Status        *string `json:"status"`
		AssigneeID    *string `json:"assignee_id"`
		ClientVersion *int    `json:"client_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ClientVersion == nil {
		writeError(w, http.StatusBadRequest, "client_version is required")
		return
	}

	upd := tracker.IssueUpdate{
		Title:         req.Title,
		Description:   req.Description,
		AssigneeID:    req.AssigneeID,
		ClientVersion: *req.ClientVersion,
	}
	if req.Status != nil {
		st := models.IssueStatus(*req.Status)
		upd.Status = &st
	}

	issue, err := s.tracker.UpdateIssue(r.Context(), id, upd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteIssue(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Comments ---

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")
	if _, err := s.store.GetIssue(r.Context(), issueID); err != nil {
		writeServiceError(w, err)
		return
	}
	comments, err := s.store.ListComments(r.Context(), issueID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")

	var req struct {
		AuthorID string `json:"author_id"`
		Body     string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	comment, err := s.tracker.AddComment(r.Context(), issueID, req.AuthorID, req.Body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// --- Labels ---

func (s *Server) replaceLabels(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")

	var req struct {
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.tracker.ReplaceLabels(r.Context(), issueID, req.Labels); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Labels updated successfully"})
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := s.store.ListLabels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if labels == nil {
		labels = []*models.Label{}
	}
	writeJSON(w, http.StatusOK, labels)
}

// --- Timeline ---

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")
	entries, err := s.tracker.Timeline(r.Context(), issueID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.IssueHistory{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Bulk Status ---

func (s *Server) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req []struct {
		IssueID string `json:"issue_id"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "at least one item is required")
		return
	}

	changes := make([]store.StatusChange, len(req))
	for i, item := range req {
		changes[i] = store.StatusChange{
			IssueID: item.IssueID,
			Status:  models.IssueStatus(item.Status),
		}
	}

	if err := s.tracker.BulkStatus(r.Context(), changes); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Bulk status update successful"})
}

// --- CSV Import ---

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request) {
	body := r.Body

	// Accept either a multipart upload under "file" or a raw CSV body.
	if ct := r.Header.Get("Content-Type"); len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file upload")
			return
		}
		defer func() { _ = file.Close() }()
		body = file
	}

	result, err := s.tracker.ImportCSV(r.Context(), body, false)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// --- Users ---

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	u := &models.User{Name: req.Name, Email: req.Email}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Reports ---

func (s *Server) topAssignees(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TopAssignees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type row struct {
		AssigneeID   string `json:"assignee_id"`
		AssigneeName string `json:"assignee_name"`
		TotalIssues  int    `json:"total_issues"`
	}
	out := make([]row, len(counts))
	for i, c := range counts {
		out[i] = row{AssigneeID: c.AssigneeID, AssigneeName: c.AssigneeName, TotalIssues: c.TotalIssues}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) avgResolutionTime(w http.ResponseWriter, r *http.Request) {
	avg, err := s.store.AvgResolutionTime(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// null when no issue has ever been resolved, per the report contract.
	var seconds *float64
	if avg != nil {
		v := avg.Seconds()
		seconds = &v
	}
	writeJSON(w, http.StatusOK, map[string]any{"avg_resolution_time": seconds})
}
