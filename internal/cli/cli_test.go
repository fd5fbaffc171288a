package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/fragment/internal/events"
	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/registry"
)

func TestRequestFromFlags(t *testing.T) {
	cmd := newGenerateCmd()
	cmd.Flags().Set("duration", "90")
	cmd.Flags().Set("key-point", "Sun")
	cmd.Flags().Set("key-point", " ")
	cmd.Flags().Set("key-point", "Orbits")

	req, err := requestFromFlags(cmd, "  Solar System ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Topic != "Solar System" || req.Duration != 90 || req.Style != models.StyleEducational {
		t.Errorf("unexpected request %+v", req)
	}
	if len(req.KeyPoints) != 2 || req.KeyPoints[1] != "Orbits" {
		t.Errorf("unexpected key points %v", req.KeyPoints)
	}

	bad := newPlanCmd()
	bad.Flags().Set("duration", "5")
	if _, err := requestFromFlags(bad, "Solar System"); err == nil {
		t.Error("expected a validation error for a 5s video")
	}
}

func TestWatchPrintsStagesUntilTerminal(t *testing.T) {
	reg := registry.New("", nil)
	job := reg.CreateJob(models.GenerationRequest{Topic: "Solar System"}.Normalize())

	go func() {
		for i, st := range models.Stages {
			time.Sleep(5 * time.Millisecond)
			reg.EnterStage(job.ID, st, 5+i*20)
		}
		reg.Fail(job.ID, models.JobError{Kind: "composition", Message: "encoder exited 1"})
	}()

	var out bytes.Buffer
	final, err := watch(context.Background(), &out, reg, job.ID, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != models.JobStatusFailed {
		t.Errorf("expected failed job, got %s", final.Status)
	}
	if !strings.Contains(out.String(), "composing") {
		t.Errorf("expected the last stage printed, got %q", out.String())
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	reg := registry.New("", nil)
	job := reg.CreateJob(models.GenerationRequest{Topic: "Solar System"}.Normalize())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	got, err := watch(ctx, &out, reg, job.ID, time.Millisecond)
	if err == nil {
		t.Fatal("expected the context error")
	}
	if got.ID != job.ID || got.Status != models.JobStatusQueued {
		t.Errorf("expected the last seen job, got %+v", got)
	}
}

func TestReport(t *testing.T) {
	done := models.Job{
		Status:     models.JobStatusSucceeded,
		OutputPath: "/out/abc/Solar_System_1700000000.mp4",
		Runtime:    68700 * time.Millisecond,
	}
	var out bytes.Buffer
	if err := report(&out, done, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Solar_System_1700000000.mp4") || !strings.Contains(out.String(), "runtime: 68.7s") {
		t.Errorf("unexpected report %q", out.String())
	}

	failed := models.Job{
		Status: models.JobStatusFailed,
		Error:  &models.JobError{Stage: models.StageImaging, Kind: "transient", Message: "rate limited", Attempts: 3},
	}
	err := report(&bytes.Buffer{}, failed, false)
	if err == nil || !strings.Contains(err.Error(), "imaging") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("unexpected error %v", err)
	}

	out.Reset()
	report(&out, done, true)
	if !strings.Contains(out.String(), `"status": "succeeded"`) {
		t.Errorf("expected JSON output, got %q", out.String())
	}
}

func TestPrintPlan(t *testing.T) {
	plan := &models.ScenePlan{Scenes: []models.Scene{{Index: 0, Narration: "The Sun.", ImagePrompt: "Sun", DurationHint: 20}}}

	var out bytes.Buffer
	if err := printPlan(&out, plan); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"duration_hint": 20`) {
		t.Errorf("unexpected plan output %q", out.String())
	}
}

type fakeEvents struct {
	history []events.Event
	live    []events.Event
}

func (f *fakeEvents) Recent(_ context.Context, n int) ([]events.Event, error) {
	if n < len(f.history) {
		return f.history[len(f.history)-n:], nil
	}
	return f.history, nil
}

func (f *fakeEvents) Subscribe(context.Context) (<-chan events.Event, error) {
	ch := make(chan events.Event, len(f.live))
	for _, ev := range f.live {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestStreamEvents(t *testing.T) {
	id := uuid.New()
	src := &fakeEvents{
		history: []events.Event{
			{Type: events.JobQueued, JobID: id, Status: models.JobStatusQueued},
			{Type: events.JobStage, JobID: id, Stage: models.StageScripting, Progress: 5},
		},
		live: []events.Event{
			{Type: events.JobFailed, JobID: id, Stage: models.StageImaging, Progress: 30,
				Error: &models.JobError{Kind: "fatal", Message: "blocked"}},
		},
	}

	var out bytes.Buffer
	if err := streamEvents(context.Background(), &out, src, 1, false); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "job.queued") || !strings.Contains(out.String(), "scripting") {
		t.Errorf("expected only the newest event, got %q", out.String())
	}

	out.Reset()
	if err := streamEvents(context.Background(), &out, src, 5, true); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(out.String(), "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d: %q", lines, out.String())
	}
	if !strings.Contains(out.String(), "fatal: blocked") {
		t.Errorf("expected the failure printed, got %q", out.String())
	}
}
