// Package orchestrator drives a generation job through its stages on a
// background goroutine and records every transition in the registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/registry"
	"github.com/bobarin/fragment/internal/services"
	"github.com/bobarin/fragment/internal/stage"
	"github.com/bobarin/fragment/internal/storage"
	"github.com/bobarin/fragment/internal/timing"
)

// ErrAlreadyInProgress is returned by Submit while another job holds the slot.
var ErrAlreadyInProgress = errors.New("a generation job is already in progress")

// Progress checkpoints per stage. Scene stages spread across their band.
const (
	progressScripting     = 5
	progressImaging       = 15
	progressNarrating     = 45
	progressSynchronizing = 75
	progressComposing     = 80
)

// Gate is the single-flight admission slot.
type Gate struct {
	busy atomic.Bool
}

// TryAcquire takes the slot if it is free. Check and set are one atomic step.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *Gate) Release() {
	g.busy.Store(false)
}

func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// Adapters are the external collaborators, one per AI stage.
type Adapters struct {
	Script    stage.Adapter[services.ScriptInput, *models.ScenePlan]
	Image     stage.Adapter[services.ImageInput, services.ImageOutput]
	Narration stage.Adapter[services.NarrationInput, services.NarrationOutput]
}

// Policies bound retries and waits per stage.
type Policies struct {
	Script    stage.RetryPolicy
	Image     stage.RetryPolicy
	Narration stage.RetryPolicy
	// Compose bounds the whole render; the encoder is killed when it expires.
	Compose time.Duration
}

type Config struct {
	Layout           compose.Layout
	MinSceneDuration time.Duration
	MaxWordsPerCue   int
	SceneConcurrency int
	Policies         Policies
}

// Mirror receives a copy of every finished video.
type Mirror interface {
	UploadFile(ctx context.Context, objectPath, localPath, contentType string) error
	GetPublicURL(objectPath string) string
}

type Orchestrator struct {
	gate     Gate
	registry *registry.Registry
	store    *storage.Local
	adapters Adapters
	engine   *compose.Engine
	mirror   Mirror
	cfg      Config

	wg sync.WaitGroup
}

func New(reg *registry.Registry, store *storage.Local, adapters Adapters, engine *compose.Engine, cfg Config) *Orchestrator {
	if cfg.SceneConcurrency < 1 {
		cfg.SceneConcurrency = 1
	}
	return &Orchestrator{
		registry: reg,
		store:    store,
		adapters: adapters,
		engine:   engine,
		cfg:      cfg,
	}
}

// WithMirror uploads finished videos to m. Upload failures never fail a job.
func (o *Orchestrator) WithMirror(m Mirror) *Orchestrator {
	o.mirror = m
	return o
}

// Busy reports whether a job holds the slot.
func (o *Orchestrator) Busy() bool {
	return o.gate.Busy()
}

// Submit validates the request, claims the slot and starts the pipeline in the
// background. The returned job is already visible in the registry.
func (o *Orchestrator) Submit(req models.GenerationRequest) (models.Job, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return models.Job{}, err
	}
	if req.OutsideRecommendedRange() {
		log.Printf("[Orchestrator] Duration %ds is outside the recommended %d-%ds range", req.Duration, models.RecommendedMinLength, models.RecommendedMaxLength)
	}

	if !o.gate.TryAcquire() {
		return models.Job{}, ErrAlreadyInProgress
	}

	job := o.registry.CreateJob(req)
	log.Printf("[Orchestrator] Job %s accepted: topic=%q duration=%ds keyPoints=%d", job.ID, req.Topic, req.Duration, len(req.KeyPoints))

	o.wg.Add(1)
	go o.run(job.ID, req)

	return job, nil
}

// Wait blocks until the running job, if any, has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown waits for the running job to finish or ctx to expire. Jobs are never
// cancelled mid-stage; one left running is marked interrupted on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job still running at shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) run(id uuid.UUID, req models.GenerationRequest) {
	defer o.wg.Done()
	defer o.gate.Release()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Orchestrator] Job %s panicked: %v\n%s", id, r, debug.Stack())
			o.fail(id, models.JobError{Kind: string(stage.Fatal), Message: fmt.Sprintf("panic: %v", r)})
		}
	}()

	res, err := o.execute(context.Background(), id, req)
	if err != nil {
		jobErr := jobErrorFrom(err)
		log.Printf("[Orchestrator] Job %s failed after %v: %v", id, time.Since(started).Round(time.Millisecond), err)
		o.fail(id, jobErr)
		return
	}

	if err := o.registry.Succeed(id, *res); err != nil {
		log.Printf("[Orchestrator] Job %s could not be marked succeeded: %v", id, err)
		o.fail(id, models.JobError{Kind: "internal", Message: err.Error()})
		return
	}
	log.Printf("[Orchestrator] Job %s succeeded in %v: %s (%v)", id, time.Since(started).Round(time.Millisecond), res.OutputPath, res.Runtime)
}

func (o *Orchestrator) execute(ctx context.Context, id uuid.UUID, req models.GenerationRequest) (*registry.Result, error) {
	dir, err := o.store.EnsureJobDir(id.String())
	if err != nil {
		return nil, err
	}

	// ── Scripting ──────────────────────────────────────────────────────
	if err := o.registry.EnterStage(id, models.StageScripting, progressScripting); err != nil {
		return nil, err
	}
	plan, err := Script(ctx, o.adapters.Script, o.cfg.Policies.Script, req)
	if err != nil {
		return nil, err
	}
	if err := o.registry.SetPlan(id, plan); err != nil {
		return nil, err
	}
	log.Printf("[Orchestrator] Job %s: script has %d scenes (requested %d)", id, len(plan.Scenes), models.SceneCountFor(req.Duration))

	// ── Imaging ────────────────────────────────────────────────────────
	if err := o.registry.EnterStage(id, models.StageImaging, progressImaging); err != nil {
		return nil, err
	}
	images, err := forEachScene(ctx, o, id, plan, progressImaging, progressNarrating,
		func(ctx context.Context, scene models.Scene) (services.ImageOutput, error) {
			in := services.ImageInput{
				Scene:      scene,
				Style:      req.Style,
				OutputPath: o.store.ScenePath(id.String(), scene.Index, "png"),
			}
			return stage.Run(ctx, o.cfg.Policies.Image, models.StageImaging, o.adapters.Image, in)
		})
	if err != nil {
		return nil, err
	}

	// ── Narrating ──────────────────────────────────────────────────────
	if err := o.registry.EnterStage(id, models.StageNarrating, progressNarrating); err != nil {
		return nil, err
	}
	narrations, err := forEachScene(ctx, o, id, plan, progressNarrating, progressSynchronizing,
		func(ctx context.Context, scene models.Scene) (services.NarrationOutput, error) {
			in := services.NarrationInput{
				Scene:    scene,
				BasePath: o.store.ScenePath(id.String(), scene.Index, ""),
			}
			return stage.Run(ctx, o.cfg.Policies.Narration, models.StageNarrating, o.adapters.Narration, in)
		})
	if err != nil {
		return nil, err
	}

	artifacts := make([]models.SceneArtifact, len(plan.Scenes))
	for i, scene := range plan.Scenes {
		artifacts[i] = models.SceneArtifact{
			Index:     scene.Index,
			ImagePath: images[i].Path,
			AudioPath: narrations[i].Path,
			Duration:  narrations[i].Duration,
		}
	}
	if err := o.registry.SetArtifacts(id, artifacts); err != nil {
		return nil, err
	}

	// ── Synchronizing ──────────────────────────────────────────────────
	if err := o.registry.EnterStage(id, models.StageSynchronizing, progressSynchronizing); err != nil {
		return nil, err
	}
	layout := o.cfg.Layout
	tl, err := timing.Synchronize(plan, artifacts, timing.Options{
		Offset:           layout.Intro.Duration,
		MinSceneDuration: o.cfg.MinSceneDuration,
		MaxWordsPerCue:   o.cfg.MaxWordsPerCue,
	})
	if err != nil {
		return nil, stage.NewFatal(models.StageSynchronizing, err)
	}
	if err := timing.WriteSRTFile(filepath.Join(dir, "subtitles.srt"), tl.Cues()); err != nil {
		return nil, stage.NewFatal(models.StageSynchronizing, err)
	}
	log.Printf("[Orchestrator] Job %s: narrated timeline %v across %d scenes", id, tl.Narrated, len(tl.Scenes))

	// ── Composing ──────────────────────────────────────────────────────
	if err := o.registry.EnterStage(id, models.StageComposing, progressComposing); err != nil {
		return nil, err
	}
	renderPlan, err := compose.BuildPlan(req.Topic, artifacts, tl, layout)
	if err != nil {
		return nil, &compose.CompositionError{Step: "plan", Err: err}
	}

	displayName := storage.DisplayName(req.Topic, time.Now())
	outputPath := filepath.Join(dir, displayName)

	renderCtx := ctx
	if o.cfg.Policies.Compose > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, o.cfg.Policies.Compose)
		defer cancel()
	}
	if err := o.engine.Render(renderCtx, renderPlan, outputPath); err != nil {
		return nil, err
	}

	url, err := o.store.PublicURL(outputPath)
	if err != nil {
		return nil, err
	}

	return &registry.Result{
		OutputPath:  outputPath,
		OutputURL:   url,
		DisplayName: displayName,
		Runtime:     renderPlan.Total,
		RemoteURL:   o.upload(ctx, id, outputPath, displayName),
	}, nil
}

// Script runs the scripting stage on its own: one adapter call under the policy,
// then validation and duration hints over the scenes actually returned.
func Script(ctx context.Context, a stage.Adapter[services.ScriptInput, *models.ScenePlan], p stage.RetryPolicy, req models.GenerationRequest) (*models.ScenePlan, error) {
	in := services.ScriptInput{Request: req, SceneCount: models.SceneCountFor(req.Duration)}
	plan, err := stage.Run(ctx, p, models.StageScripting, a, in)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, stage.Fatalf(models.StageScripting, "script stage returned no plan")
	}
	if err := plan.Validate(); err != nil {
		return nil, stage.NewFatal(models.StageScripting, err)
	}
	plan.AssignDurationHints(req.Duration)
	return plan, nil
}

// upload mirrors the finished video and returns its public URL, or "" on failure.
func (o *Orchestrator) upload(ctx context.Context, id uuid.UUID, path, name string) string {
	if o.mirror == nil {
		return ""
	}
	objectPath := storage.ObjectPath(id.String(), name)
	if err := o.mirror.UploadFile(ctx, objectPath, path, "video/mp4"); err != nil {
		log.Printf("[Orchestrator] Job %s: mirror upload failed, keeping local copy only: %v", id, err)
		return ""
	}
	return o.mirror.GetPublicURL(objectPath)
}

// forEachScene runs fn for every scene with bounded parallelism. Results come back
// in scene order regardless of completion order; the first failure cancels the rest.
func forEachScene[Out any](ctx context.Context, o *Orchestrator, id uuid.UUID, plan *models.ScenePlan, from, to int,
	fn func(ctx context.Context, scene models.Scene) (Out, error)) ([]Out, error) {

	n := len(plan.Scenes)
	out := make([]Out, n)
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SceneConcurrency)
	for i, scene := range plan.Scenes {
		g.Go(func() error {
			res, err := fn(gctx, scene)
			if err != nil {
				return err
			}
			out[i] = res
			finished := int(done.Add(1))
			if err := o.registry.SetProgress(id, from+(to-from)*finished/n); err != nil {
				log.Printf("[Orchestrator] Job %s: progress update failed: %v", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) fail(id uuid.UUID, jobErr models.JobError) {
	if err := o.registry.Fail(id, jobErr); err != nil {
		log.Printf("[Orchestrator] Job %s could not be marked failed: %v", id, err)
	}
}

// jobErrorFrom classifies a pipeline error for the job record.
func jobErrorFrom(err error) models.JobError {
	var ce *compose.CompositionError
	if errors.As(err, &ce) {
		return models.JobError{Stage: models.StageComposing, Kind: "composition", Message: ce.Error()}
	}
	var se *stage.StageError
	if errors.As(err, &se) {
		return models.JobError{Stage: se.Stage, Kind: string(se.Kind), Message: se.Err.Error(), Attempts: se.Attempts}
	}
	return models.JobError{Kind: "internal", Message: err.Error()}
}
