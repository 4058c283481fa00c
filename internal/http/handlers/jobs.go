package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// JobStatus polls the backend owning the job (when the job is still live)
// and returns the normalized status. Terminal jobs answer from the store.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	status, err := a.Jobs.Poll(r.Context(), jobID)
	if err != nil {
		a.domainError(w, err)
		return
	}

	a.json(w, http.StatusOK, status)
}
