package kernel

import (
	"errors"
	"net/http"
	"time"

	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/oapi-codegen/runtime"
)

type jobResponse struct {
	Job domain.Job `json:"job"`
}

type listJobsResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

type statusUpdateRequest struct {
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// handleSubmitJob admits a submission.
// POST /v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	job, err := s.coordinator.SubmitJob(r.Context(), sub)
	if err != nil {
		var busy *domain.BusyError
		switch {
		case errors.As(err, &busy):
			writeJSON(w, http.StatusLocked, errorBody{Code: "busy", Message: busy.Error(), OwnerID: busy.OwnerID})
		case errors.Is(err, domain.ErrWorkerUnavailable):
			writeError(w, http.StatusServiceUnavailable, "unavailable", "design plugin is not currently open, open the plugin and try again")
		case errors.Is(err, domain.ErrInvalidSubmission):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			s.logger.ErrorContext(r.Context(), "failed to submit job", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, jobResponse{Job: job})
}

// handleListJobs returns jobs filtered by status and age. Reading the list
// also prunes expired jobs and releases an orphaned lock.
// GET /v1/jobs?status=pending&status=processing&max_age_seconds=180
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses *[]string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &statuses); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var maxAge *int
	if err := runtime.BindQueryParameter("form", true, false, "max_age_seconds", r.URL.Query(), &maxAge); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var filter domain.JobFilter
	if statuses == nil {
		statuses = &[]string{}
	}
	for _, st := range *statuses {
		status := domain.JobStatus(st)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+st)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if maxAge != nil {
		if *maxAge < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "max_age_seconds must not be negative")
			return
		}
		filter.MaxAge = time.Duration(*maxAge) * time.Second
	}

	jobs := s.coordinator.ListJobs(r.Context(), filter)
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs})
}

// GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coordinator.GetJob(r.Context(), domain.JobID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job})
}

// PATCH /v1/jobs/{id}
func (s *Server) handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	job, err := s.coordinator.UpdateJobStatus(r.Context(), domain.JobID(r.PathValue("id")), req.Status, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, jobResponse{Job: job})
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "failed to update job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// POST /v1/heartbeat
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Heartbeat(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// GET /v1/availability
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.QueryAvailability(r.Context()))
}

// POST /v1/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status(r.Context()))
}
