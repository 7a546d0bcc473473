package api

import (
	"net/http"
	"time"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.eng.QueueStats(r.Context(), r.URL.Query().Get("queue"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (a *API) cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	olderThan, err := time.ParseDuration(req.OlderThan)
	if err != nil || olderThan < 0 {
		a.respondError(w, r, jobq.NewValidationError("older_than", "must be a non-negative duration"))
		return
	}

	n, err := a.eng.Cleanup(r.Context(), olderThan, job.State(req.State))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CleanupResponse{Removed: n})
}
