package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/webgen/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB
)

// startRequest is the JSON body for POST /start.
type startRequest struct {
	Snapshot *string `json:"snapshot"`
}

// jobResponse is returned by /start and /delete.
type jobResponse struct {
	WebsiteID string `json:"website_id"`
	Status    string `json:"status"`
}

// startErrorResponse reports a job that was created but failed to start.
type startErrorResponse struct {
	Error     string `json:"error"`
	WebsiteID string `json:"website_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type eventsResponse struct {
	WebsiteID string        `json:"website_id"`
	Events    []model.Event `json:"events"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Snapshot == nil {
		s.writeError(w, http.StatusBadRequest, "snapshot is required")
		return
	}

	id, err := s.jobs.Create(r.Context(), *req.Snapshot)
	if err != nil && id != "" {
		// The job exists but its generator did not start cleanly.
		s.logger.Error("start job", "website_id", id, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, startErrorResponse{
			Error:     "failed to start generator",
			WebsiteID: id,
		})
		return
	}
	if err != nil {
		s.writeJobError(w, err, "start job", id)
		return
	}

	s.writeJSON(w, http.StatusAccepted, jobResponse{WebsiteID: id, Status: model.StatusAccepted})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.jobs.Status(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err, "get status", id)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.jobs.FetchResult(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err, "download result", id)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Error("write archive", "website_id", id, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.jobs.Delete(r.Context(), id); err != nil {
		s.writeJobError(w, err, "delete job", id)
		return
	}

	s.writeJSON(w, http.StatusOK, jobResponse{WebsiteID: id, Status: model.StatusDeleted})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.jobs.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if list == nil {
		list = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   list,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := s.jobs.Events(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err, "list events", id)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{WebsiteID: id, Events: events})
}

// writeJobError maps a job error onto a status code. Unexpected errors are
// logged and reported with a generic message.
func (s *Server) writeJobError(w http.ResponseWriter, err error, op, id string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "website not found")
	case errors.Is(err, model.ErrInvalidMetadata):
		s.writeError(w, http.StatusBadRequest, "no process recorded for website")
	case errors.Is(err, model.ErrConflict):
		s.writeError(w, http.StatusConflict, "website is still being generated")
	case errors.Is(err, model.ErrMissingOutput):
		s.logger.Error(op, "website_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "index.html not found")
	case errors.Is(err, model.ErrTemplateMissing), errors.Is(err, model.ErrAllocationConflict):
		s.logger.Error(op, "website_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to prepare workspace")
	default:
		s.logger.Error(op, "website_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
