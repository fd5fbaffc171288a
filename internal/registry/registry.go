package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/fragment/internal/events"
	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/storage"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Result is what a successful pipeline hands back for the job record.
type Result struct {
	OutputPath  string
	OutputURL   string
	DisplayName string
	Runtime     time.Duration
	RemoteURL   string
}

// Registry is the single source of truth for job state. Every mutation is
// committed under the write lock before it returns, and readers always get copies.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*models.Job
	journal string

	events events.Publisher
	seq    uint64 // last event sequence, guarded by mu
	now    func() time.Time
}

// New creates an empty registry. A non-empty journalPath persists every
// committed change so listings survive restarts.
func New(journalPath string, pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Registry{
		jobs:    make(map[uuid.UUID]*models.Job),
		journal: journalPath,
		events:  pub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Load restores jobs from the journal. Jobs that were still queued or running when
// the process stopped cannot be resumed and are marked failed.
func (r *Registry) Load() (int, error) {
	if r.journal == "" {
		return 0, nil
	}

	data, err := os.ReadFile(r.journal)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read job journal: %w", err)
	}

	var jobs []models.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return 0, fmt.Errorf("failed to parse job journal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	interrupted := 0
	for i := range jobs {
		job := jobs[i]
		if !job.Status.Terminal() {
			now := r.now()
			job.Status = models.JobStatusFailed
			job.Error = &models.JobError{
				Stage:   job.Stage,
				Kind:    "internal",
				Message: "interrupted by restart",
			}
			job.CompletedAt = &now
			interrupted++
		}
		r.jobs[job.ID] = &job
	}

	if interrupted > 0 {
		log.Printf("[Registry] Marked %d interrupted jobs as failed", interrupted)
		if err := r.saveLocked(); err != nil {
			return len(jobs), err
		}
	}
	return len(jobs), nil
}

// CreateJob registers a queued job for an already validated request.
func (r *Registry) CreateJob(req models.GenerationRequest) models.Job {
	job := &models.Job{
		ID:        uuid.New(),
		Request:   req,
		Status:    models.JobStatusQueued,
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.persistLocked()
	out := job.Clone()
	seq := r.nextSeqLocked()
	r.mu.Unlock()

	r.publish(events.JobQueued, &out, seq)
	return out
}

// GetJob returns a copy of the job.
func (r *Registry) GetJob(id uuid.UUID) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job.Clone(), nil
}

// ListJobs returns jobs of any status, newest first.
func (r *Registry) ListJobs(limit int) []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return truncate(out, limit)
}

// ListCompleted returns succeeded jobs, most recently completed first.
func (r *Registry) ListCompleted(limit int) []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Job
	for _, job := range r.jobs {
		if job.Status == models.JobStatusSucceeded {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ca, cb := completedAt(a), completedAt(b)
		if !ca.Equal(cb) {
			return ca.After(cb)
		}
		return newer(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return truncate(out, limit)
}

// EnterStage moves the job to Running(stage). Stages only advance.
func (r *Registry) EnterStage(id uuid.UUID, stage models.Stage, progress int) error {
	return r.update(id, events.JobStage, func(job *models.Job) error {
		if !job.CanEnter(stage) {
			return fmt.Errorf("%w: %s job at %q cannot enter %q", ErrInvalidTransition, job.Status, job.Stage, stage)
		}
		if job.Status == models.JobStatusQueued {
			now := r.now()
			job.StartedAt = &now
		}
		job.Status = models.JobStatusRunning
		job.Stage = stage
		setProgress(job, progress)
		return nil
	})
}

// SetProgress records progress within the current stage. Progress never decreases.
func (r *Registry) SetProgress(id uuid.UUID, progress int) error {
	return r.update(id, events.JobProgress, func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("%w: cannot report progress on a %s job", ErrInvalidTransition, job.Status)
		}
		setProgress(job, progress)
		return nil
	})
}

// SetPlan stores the script stage output.
func (r *Registry) SetPlan(id uuid.UUID, plan *models.ScenePlan) error {
	return r.update(id, "", func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("%w: cannot attach a plan to a %s job", ErrInvalidTransition, job.Status)
		}
		p := *plan
		p.Scenes = append([]models.Scene(nil), plan.Scenes...)
		job.Plan = &p
		return nil
	})
}

// SetArtifacts replaces the job's scene artifacts, which must be in scene order.
func (r *Registry) SetArtifacts(id uuid.UUID, artifacts []models.SceneArtifact) error {
	for i, a := range artifacts {
		if a.Index != i {
			return fmt.Errorf("artifact %d has scene index %d", i, a.Index)
		}
	}
	return r.update(id, "", func(job *models.Job) error {
		if job.Status != models.JobStatusRunning {
			return fmt.Errorf("%w: cannot attach artifacts to a %s job", ErrInvalidTransition, job.Status)
		}
		job.Artifacts = append([]models.SceneArtifact(nil), artifacts...)
		return nil
	})
}

// Succeed completes a job that has reached the composing stage.
func (r *Registry) Succeed(id uuid.UUID, res Result) error {
	if res.OutputPath == "" {
		return fmt.Errorf("%w: success requires an output file", ErrInvalidTransition)
	}
	return r.update(id, events.JobSucceeded, func(job *models.Job) error {
		if job.Status != models.JobStatusRunning || job.Stage != models.StageComposing {
			return fmt.Errorf("%w: %s job at %q cannot succeed", ErrInvalidTransition, job.Status, job.Stage)
		}
		now := r.now()
		job.Status = models.JobStatusSucceeded
		job.Progress = 100
		job.OutputPath = res.OutputPath
		job.OutputURL = res.OutputURL
		job.DisplayName = res.DisplayName
		job.Runtime = res.Runtime
		job.RemoteURL = res.RemoteURL
		job.CompletedAt = &now
		return nil
	})
}

// Fail moves a non-terminal job to Failed with the classified error.
func (r *Registry) Fail(id uuid.UUID, jobErr models.JobError) error {
	return r.update(id, events.JobFailed, func(job *models.Job) error {
		if job.Status.Terminal() {
			return fmt.Errorf("%w: job already %s", ErrInvalidTransition, job.Status)
		}
		now := r.now()
		if jobErr.Stage == "" {
			jobErr.Stage = job.Stage
		}
		job.Status = models.JobStatusFailed
		job.Error = &jobErr
		job.OutputPath = ""
		job.OutputURL = ""
		job.CompletedAt = &now
		return nil
	})
}

// update applies fn under the write lock, persists, then publishes outside the lock.
// Events carry a sequence number taken under the lock, so subscribers can order
// them by commit even when parallel publishes reach the broker out of order.
func (r *Registry) update(id uuid.UUID, ev events.Type, fn func(job *models.Job) error) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	before := job.Progress
	if err := fn(job); err != nil {
		r.mu.Unlock()
		return err
	}
	if ev == events.JobProgress && job.Progress == before {
		ev = ""
	}
	r.persistLocked()
	out := job.Clone()
	var seq uint64
	if ev != "" {
		seq = r.nextSeqLocked()
	}
	r.mu.Unlock()

	if ev != "" {
		r.publish(ev, &out, seq)
	}
	return nil
}

func (r *Registry) nextSeqLocked() uint64 {
	r.seq++
	return r.seq
}

func (r *Registry) publish(t events.Type, job *models.Job, seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := events.FromJob(t, job)
	ev.Seq = seq
	if err := r.events.Publish(ctx, ev); err != nil {
		log.Printf("[Registry] Failed to publish %s for job %s: %v", t, job.ID, err)
	}
}

// persistLocked saves the journal; a failed save is logged, in-memory state stays authoritative.
func (r *Registry) persistLocked() {
	if err := r.saveLocked(); err != nil {
		log.Printf("[Registry] Failed to save job journal: %v", err)
	}
}

func (r *Registry) saveLocked() error {
	if r.journal == "" {
		return nil
	}
	jobs := make([]*models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return !newer(jobs[i].CreatedAt, jobs[j].CreatedAt, jobs[i].ID, jobs[j].ID)
	})

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}
	return storage.WriteFileAtomic(r.journal, data)
}

func setProgress(job *models.Job, progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
}

func completedAt(job models.Job) time.Time {
	if job.CompletedAt == nil {
		return time.Time{}
	}
	return *job.CompletedAt
}

// newer orders by creation time descending, then id for a stable order.
func newer(a, b time.Time, idA, idB uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA.String() < idB.String()
}

func truncate(jobs []models.Job, limit int) []models.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
