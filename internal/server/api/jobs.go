package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ayusman/vsl/internal/store"
)

// JobsHandler serves the stored batch job history.
type JobsHandler struct {
	store *store.Store
}

// NewJobsHandler creates a JobsHandler with the given store.
func NewJobsHandler(s *store.Store) *JobsHandler {
	return &JobsHandler{store: s}
}

type listJobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// List handles GET .../jobs?limit=N, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.store.Jobs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}

	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs})
}

// Get handles GET .../jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Jobs().GetByID(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Delete handles DELETE .../jobs/{id}.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Jobs().Delete(r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
