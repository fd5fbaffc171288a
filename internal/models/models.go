package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enums
type Style string

const (
	StyleEducational Style = "educational"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Stage is one pipeline phase. Stages run strictly in declaration order.
type Stage string

const (
	StageScripting     Stage = "scripting"
	StageImaging       Stage = "imaging"
	StageNarrating     Stage = "narrating"
	StageSynchronizing Stage = "synchronizing"
	StageComposing     Stage = "composing"
)

// Stages lists every pipeline stage in execution order.
var Stages = []Stage{
	StageScripting,
	StageImaging,
	StageNarrating,
	StageSynchronizing,
	StageComposing,
}

// Order returns the position of the stage in the pipeline, or -1 if unknown.
func (s Stage) Order() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Request limits
const (
	MaxTopicLength       = 200
	MinDurationSeconds   = 10
	MaxDurationSeconds   = 300
	DefaultDuration      = 60
	RecommendedMinLength = 30
	RecommendedMaxLength = 120
	MaxKeyPoints         = 10

	// secondsPerScene drives how many scenes the script stage is asked for
	secondsPerScene = 20
	maxScenes       = 15
)

// ValidationError is returned for malformed generation requests, before any job exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GenerationRequest is immutable once accepted by the orchestrator.
type GenerationRequest struct {
	Topic     string   `json:"topic"`
	Duration  int      `json:"duration"`
	KeyPoints []string `json:"key_points,omitempty"`
	Style     Style    `json:"style"`
}

// UnmarshalJSON defaults duration only when the field is absent. An explicit
// zero is kept so Validate rejects it.
func (r *GenerationRequest) UnmarshalJSON(data []byte) error {
	type plain GenerationRequest
	v := plain{Duration: DefaultDuration}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = GenerationRequest(v)
	return nil
}

// Normalize returns a copy with the default style applied, whitespace trimmed and blank key points dropped.
func (r GenerationRequest) Normalize() GenerationRequest {
	out := GenerationRequest{
		Topic:    strings.TrimSpace(r.Topic),
		Duration: r.Duration,
		Style:    Style(strings.ToLower(strings.TrimSpace(string(r.Style)))),
	}
	if out.Style == "" {
		out.Style = StyleEducational
	}
	for _, kp := range r.KeyPoints {
		if kp = strings.TrimSpace(kp); kp != "" {
			out.KeyPoints = append(out.KeyPoints, kp)
		}
	}
	return out
}

// Validate checks an already-normalized request.
func (r GenerationRequest) Validate() error {
	if r.Topic == "" {
		return &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	if n := len([]rune(r.Topic)); n > MaxTopicLength {
		return &ValidationError{Field: "topic", Message: fmt.Sprintf("must be at most %d characters, got %d", MaxTopicLength, n)}
	}
	if r.Duration < MinDurationSeconds || r.Duration > MaxDurationSeconds {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("must be between %d and %d seconds, got %d", MinDurationSeconds, MaxDurationSeconds, r.Duration)}
	}
	if len(r.KeyPoints) > MaxKeyPoints {
		return &ValidationError{Field: "key_points", Message: fmt.Sprintf("at most %d allowed, got %d", MaxKeyPoints, len(r.KeyPoints))}
	}
	if r.Style != StyleEducational {
		return &ValidationError{Field: "style", Message: fmt.Sprintf("unsupported style %q (allowed: %s)", r.Style, StyleEducational)}
	}
	return nil
}

// OutsideRecommendedRange reports a duration that is accepted but not advised.
func (r GenerationRequest) OutsideRecommendedRange() bool {
	return r.Duration < RecommendedMinLength || r.Duration > RecommendedMaxLength
}

// SceneCountFor returns how many scenes to request for a total duration.
func SceneCountFor(durationSeconds int) int {
	n := int(math.Round(float64(durationSeconds) / secondsPerScene))
	if n < 1 {
		n = 1
	}
	if n > maxScenes {
		n = maxScenes
	}
	return n
}

type Scene struct {
	Index        int    `json:"index"`
	Narration    string `json:"narration"`
	ImagePrompt  string `json:"image_prompt"`
	DurationHint int    `json:"duration_hint"` // seconds
}

type ScenePlan struct {
	Title  string  `json:"title,omitempty"`
	Scenes []Scene `json:"scenes"`
}

// Validate rejects plans the downstream stages cannot use.
func (p *ScenePlan) Validate() error {
	if p == nil || len(p.Scenes) == 0 {
		return fmt.Errorf("plan has no scenes")
	}
	for i, s := range p.Scenes {
		var missing []string
		if strings.TrimSpace(s.Narration) == "" {
			missing = append(missing, "narration")
		}
		if strings.TrimSpace(s.ImagePrompt) == "" {
			missing = append(missing, "image_prompt")
		}
		if len(missing) > 0 {
			return fmt.Errorf("scene %d missing required fields: %v", i, missing)
		}
	}
	return nil
}

// AssignDurationHints reindexes scenes from 0 and splits total seconds across them.
// The first total%n scenes receive one extra second, so the hints always sum to total.
func (p *ScenePlan) AssignDurationHints(total int) {
	n := len(p.Scenes)
	if n == 0 {
		return
	}
	base, rem := total/n, total%n
	for i := range p.Scenes {
		p.Scenes[i].Index = i
		p.Scenes[i].DurationHint = base
		if i < rem {
			p.Scenes[i].DurationHint++
		}
	}
}

// TotalHint sums the scene duration hints.
func (p *ScenePlan) TotalHint() int {
	total := 0
	for _, s := range p.Scenes {
		total += s.DurationHint
	}
	return total
}

// SceneArtifact holds the generated assets for one scene.
// Duration is measured from the decoded audio; zero means unmeasurable.
type SceneArtifact struct {
	Index     int           `json:"index"`
	ImagePath string        `json:"image_path,omitempty"`
	AudioPath string        `json:"audio_path,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// SubtitleCue is a timed subtitle line on the assembled timeline.
type SubtitleCue struct {
	Index int           `json:"index"`
	Scene int           `json:"scene"`
	Text  string        `json:"text"`
	Start time.Duration `json:"start_ns"`
	End   time.Duration `json:"end_ns"`
}

type SceneTiming struct {
	Index   int           `json:"index"`
	Start   time.Duration `json:"start_ns"`
	End     time.Duration `json:"end_ns"`
	Floored bool          `json:"floored,omitempty"`
	Cues    []SubtitleCue `json:"cues"`
}

// Duration is the length of the scene segment on the timeline.
func (s SceneTiming) Duration() time.Duration {
	return s.End - s.Start
}

// Timeline is the synchronized scene layout. Offset is where the first scene starts.
type Timeline struct {
	Offset   time.Duration `json:"offset_ns"`
	Scenes   []SceneTiming `json:"scenes"`
	Narrated time.Duration `json:"narrated_ns"`
}

// Cues flattens all scene cues in timeline order.
func (t *Timeline) Cues() []SubtitleCue {
	var cues []SubtitleCue
	for _, s := range t.Scenes {
		cues = append(cues, s.Cues...)
	}
	return cues
}

// JobError is the classified failure recorded on a failed job.
type JobError struct {
	Stage    Stage  `json:"stage"`
	Kind     string `json:"kind"` // transient, fatal, composition, internal
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

// Job is owned by the registry. Callers receive copies.
type Job struct {
	ID          uuid.UUID         `json:"id"`
	Request     GenerationRequest `json:"request"`
	Status      JobStatus         `json:"status"`
	Stage       Stage             `json:"stage,omitempty"`
	Progress    int               `json:"progress"`
	Plan        *ScenePlan        `json:"plan,omitempty"`
	Artifacts   []SceneArtifact   `json:"artifacts,omitempty"`
	Error       *JobError         `json:"error,omitempty"`
	OutputPath  string            `json:"output_path,omitempty"`
	OutputURL   string            `json:"output_url,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Runtime     time.Duration     `json:"runtime_ns,omitempty"`
	RemoteURL   string            `json:"remote_url,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand out across goroutines.
func (j *Job) Clone() Job {
	out := *j
	out.Request.KeyPoints = append([]string(nil), j.Request.KeyPoints...)
	if j.Plan != nil {
		plan := *j.Plan
		plan.Scenes = append([]Scene(nil), j.Plan.Scenes...)
		out.Plan = &plan
	}
	out.Artifacts = append([]SceneArtifact(nil), j.Artifacts...)
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// CanEnter reports whether the job may move to Running(stage).
// Stages only move forward; terminal jobs never move.
func (j *Job) CanEnter(stage Stage) bool {
	if stage.Order() < 0 {
		return false
	}
	switch j.Status {
	case JobStatusQueued:
		return true
	case JobStatusRunning:
		return stage.Order() > j.Stage.Order()
	default:
		return false
	}
}

// DTOs

type CreateVideoResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
}

type VideoSummary struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Topic       string     `json:"topic"`
	Duration    float64    `json:"duration_seconds"`
	RemoteURL   string     `json:"remote_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ListVideosResponse struct {
	Videos []VideoSummary `json:"videos"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
}

type ListJobsResponse struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
	Limit int   `json:"limit"`
}

// Summary builds the listing entry for a succeeded job.
func (j *Job) Summary() VideoSummary {
	return VideoSummary{
		ID:          j.ID,
		Name:        j.DisplayName,
		Path:        j.OutputURL,
		Topic:       j.Request.Topic,
		Duration:    j.Runtime.Seconds(),
		RemoteURL:   j.RemoteURL,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}
