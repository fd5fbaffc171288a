package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/orchestrator"
	"github.com/bobarin/fragment/internal/registry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Submitter starts generation jobs.
type Submitter interface {
	Submit(req models.GenerationRequest) (models.Job, error)
	Busy() bool
}

// JobReader answers job queries.
type JobReader interface {
	GetJob(id uuid.UUID) (models.Job, error)
	ListJobs(limit int) []models.Job
	ListCompleted(limit int) []models.Job
}

// Info is reported by /health.
type Info struct {
	Version     string
	Environment string
}

type Handler struct {
	jobs     Submitter
	registry JobReader
	info     Info
}

func NewHandler(jobs Submitter, reg JobReader, info Info) *Handler {
	return &Handler{
		jobs:     jobs,
		registry: reg,
		info:     info,
	}
}

// CreateVideo handles POST /v1/videos
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.jobs.Submit(req)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, orchestrator.ErrAlreadyInProgress):
			respondError(w, http.StatusConflict, "A video is already being generated, try again later")
		default:
			log.Printf("[API] Failed to submit job: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to create job")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateVideoResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// ListVideos handles GET /v1/videos
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	jobs := h.registry.ListCompleted(limit)
	videos := make([]models.VideoSummary, 0, len(jobs))
	for i := range jobs {
		videos = append(videos, jobs[i].Summary())
	}

	respondJSON(w, http.StatusOK, models.ListVideosResponse{
		Videos: videos,
		Total:  len(videos),
		Limit:  limit,
	})
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	jobs := h.registry.ListJobs(limit)
	if jobs == nil {
		jobs = []models.Job{}
	}

	respondJSON(w, http.StatusOK, models.ListJobsResponse{
		Jobs:  jobs,
		Total: len(jobs),
		Limit: limit,
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// DownloadVideo handles GET /v1/videos/{id}/download
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != models.JobStatusSucceeded || job.OutputPath == "" {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}
	if _, err := os.Stat(job.OutputPath); err != nil {
		log.Printf("[API] Output of job %s is missing: %v", job.ID, err)
		respondError(w, http.StatusNotFound, "Video file not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.DisplayName))
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, job.OutputPath)
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     h.info.Version,
		"environment": h.info.Environment,
		"busy":        h.jobs.Busy(),
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return models.Job{}, false
	}

	job, err := h.registry.GetJob(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
		} else {
			respondError(w, http.StatusInternalServerError, "Failed to get job")
		}
		return models.Job{}, false
	}
	return job, true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return 0, false
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
