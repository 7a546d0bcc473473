package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/id"
	"github.com/xraph/jobq/job"
)

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	opts, err := job.ParseOptions(req.Options, a.eng.Registry().Defaults(req.Name))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}

	j, err := a.eng.SubmitRaw(r.Context(), req.Name, payload, opts)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListJobsRequest{
		State: q.Get("state"),
		Queue: q.Get("queue"),
		Limit: defaultListLimit,
	}
	for field, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.respondError(w, r, jobq.NewValidationError(field, "must be an integer"))
			return
		}
		*dst = n
	}
	if err := validate(&req); err != nil {
		a.respondError(w, r, err)
		return
	}

	jobs, err := a.eng.ListJobs(r.Context(), job.State(req.State), job.ListOpts{
		Limit:  req.Limit,
		Offset: req.Offset,
		Queue:  req.Queue,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (a *API) removeJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	if err := a.eng.Remove(r.Context(), jobID); err != nil {
		a.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	j, err := a.eng.Retry(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (a *API) jobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		a.respondError(w, r, jobq.NewValidationError("jobId", err.Error()))
		return id.JobID{}, false
	}
	return jobID, true
}
