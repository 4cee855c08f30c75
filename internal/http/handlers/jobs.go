package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cardsmith/internal/domain"
)

type createJobRequest struct {
	ID        string            `json:"id"`
	Payload   domain.JobPayload `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

type jobStatusResponse struct {
	Status   domain.JobStatus `json:"status"`
	CardData []domain.Card    `json:"card_data,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type storeResultRequest struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	CardData []domain.Card    `json:"card_data,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// CreateJob registers a job the engine just accepted. Registration is
// idempotent: resubmitting an id after an engine restart refreshes the
// payload instead of failing.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	job := &domain.Job{
		ID:        req.ID,
		Status:    domain.JobStatusProcessing,
		Payload:   req.Payload,
		CreatedAt: req.CreatedAt,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Str("job_id", req.ID).Msg("create job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to register job")
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"id": job.ID, "status": string(job.Status)})
}

// JobStatus reports the current lifecycle state of a job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobStatusResponse{
		Status:   job.Status,
		CardData: job.Result,
		Error:    job.Error,
	})
}

// StoreJobResult records a terminal outcome. Terminal states are immutable:
// once a job is completed or failed, further writes are rejected.
func (a *App) StoreJobResult(w http.ResponseWriter, r *http.Request) {
	var req storeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if !req.Status.Terminal() {
		a.error(w, http.StatusBadRequest, "bad_request", "status must be terminal")
		return
	}

	existing, err := a.Jobs.GetByID(r.Context(), req.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", req.JobID).Msg("load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if existing.Status.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job already terminal")
		return
	}

	var errMsg *string
	if req.Error != "" {
		errMsg = &req.Error
	}
	if err := a.Jobs.UpdateStatus(r.Context(), req.JobID, req.Status, errMsg, req.CardData); err != nil {
		a.Logger.Error().Err(err).Str("job_id", req.JobID).Msg("store job result failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store result")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": req.JobID, "status": string(req.Status)})
}
