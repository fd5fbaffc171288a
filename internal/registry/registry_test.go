package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/fragment/internal/events"
	"github.com/bobarin/fragment/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func testRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Topic:     "Solar System",
		Duration:  60,
		KeyPoints: []string{"Sun", "Planets", "Orbits"},
	}.Normalize()
}

// fixedClock makes successive calls return increasing times.
func fixedClock(r *Registry) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func runToSuccess(t *testing.T, r *Registry, id uuid.UUID) {
	t.Helper()
	for i, st := range models.Stages {
		if err := r.EnterStage(id, st, i*20); err != nil {
			t.Fatalf("enter %s: %v", st, err)
		}
	}
	if err := r.Succeed(id, Result{OutputPath: "/out/" + id.String() + ".mp4", OutputURL: "/videos/x.mp4", DisplayName: "x.mp4", Runtime: 68700 * time.Millisecond}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())

	if job.Status != models.JobStatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}
	got, err := r.GetJob(job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != job.ID || got.Request.Topic != "Solar System" {
		t.Errorf("unexpected job %+v", got)
	}

	if _, err := r.GetJob(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())

	got, _ := r.GetJob(job.ID)
	got.Request.KeyPoints[0] = "changed"
	got.Status = models.JobStatusFailed

	again, _ := r.GetJob(job.ID)
	if again.Request.KeyPoints[0] != "Sun" || again.Status != models.JobStatusQueued {
		t.Errorf("registry state mutated through a copy: %+v", again)
	}
}

func TestStagesOnlyAdvance(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())

	if err := r.EnterStage(job.ID, models.StageScripting, 5); err != nil {
		t.Fatal(err)
	}
	if err := r.EnterStage(job.ID, models.StageNarrating, 40); err != nil {
		t.Fatal(err)
	}
	if err := r.EnterStage(job.ID, models.StageImaging, 20); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition going backwards, got %v", err)
	}
	if err := r.EnterStage(job.ID, models.StageNarrating, 45); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition re-entering a stage, got %v", err)
	}

	got, _ := r.GetJob(job.ID)
	if got.Stage != models.StageNarrating || got.Progress != 40 || got.StartedAt == nil {
		t.Errorf("unexpected job %+v", got)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())

	if err := r.SetProgress(job.ID, 10); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected error for progress on queued job, got %v", err)
	}
	r.EnterStage(job.ID, models.StageScripting, 5)
	r.SetProgress(job.ID, 30)
	r.SetProgress(job.ID, 20)
	r.SetProgress(job.ID, 150)

	got, _ := r.GetJob(job.ID)
	if got.Progress != 100 {
		t.Errorf("expected progress capped at 100, got %d", got.Progress)
	}
}

func TestSucceedRequiresComposing(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())

	res := Result{OutputPath: "/out/x.mp4"}
	if err := r.Succeed(job.ID, res); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected queued job to refuse success, got %v", err)
	}
	r.EnterStage(job.ID, models.StageScripting, 5)
	if err := r.Succeed(job.ID, res); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected scripting job to refuse success, got %v", err)
	}
	r.EnterStage(job.ID, models.StageComposing, 80)
	if err := r.Succeed(job.ID, Result{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected success without output to be refused, got %v", err)
	}
	if err := r.Succeed(job.ID, res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := r.GetJob(job.ID)
	if got.Status != models.JobStatusSucceeded || got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("unexpected job %+v", got)
	}
	if err := r.Fail(job.ID, models.JobError{Message: "late"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected terminal job to refuse failure, got %v", err)
	}
}

func TestFailRecordsError(t *testing.T) {
	rec := &recorder{}
	r := New("", rec)
	job := r.CreateJob(testRequest())
	r.EnterStage(job.ID, models.StageScripting, 5)

	err := r.Fail(job.ID, models.JobError{Kind: "fatal", Message: "malformed script", Attempts: 1})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := r.GetJob(job.ID)
	if got.Status != models.JobStatusFailed || got.OutputPath != "" {
		t.Errorf("unexpected job %+v", got)
	}
	if got.Error == nil || got.Error.Stage != models.StageScripting || got.Error.Message != "malformed script" {
		t.Errorf("unexpected error %+v", got.Error)
	}

	want := []events.Type{events.JobQueued, events.JobStage, events.JobFailed}
	types := rec.types()
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestListCompleted(t *testing.T) {
	r := New("", nil)
	fixedClock(r)

	first := r.CreateJob(testRequest())
	second := r.CreateJob(testRequest())
	failed := r.CreateJob(testRequest())
	pending := r.CreateJob(testRequest())

	runToSuccess(t, r, second.ID)
	runToSuccess(t, r, first.ID)
	r.Fail(failed.ID, models.JobError{Message: "boom"})

	got := r.ListCompleted(10)
	if len(got) != 2 {
		t.Fatalf("expected 2 completed jobs, got %d", len(got))
	}
	// first completed last, so it is listed first
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	if limited := r.ListCompleted(1); len(limited) != 1 || limited[0].ID != first.ID {
		t.Errorf("unexpected limited listing %+v", limited)
	}
	if all := r.ListJobs(0); len(all) != 4 || all[0].ID != pending.ID {
		t.Errorf("expected all jobs newest first, got %d", len(all))
	}
}

func TestJournalSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	r := New(path, nil)
	done := r.CreateJob(testRequest())
	runToSuccess(t, r, done.ID)
	running := r.CreateJob(testRequest())
	r.EnterStage(running.ID, models.StageImaging, 20)

	restored := New(path, nil)
	n, err := restored.Load()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 jobs loaded, got %d", n)
	}

	got, err := restored.GetJob(done.ID)
	if err != nil || got.Status != models.JobStatusSucceeded || got.Runtime != 68700*time.Millisecond {
		t.Errorf("unexpected restored job %+v %v", got, err)
	}

	interrupted, _ := restored.GetJob(running.ID)
	if interrupted.Status != models.JobStatusFailed || interrupted.Error == nil || interrupted.Error.Stage != models.StageImaging {
		t.Errorf("expected interrupted job failed, got %+v", interrupted)
	}
}

func TestLoadWithoutJournal(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "missing.json"), nil)
	if n, err := r.Load(); n != 0 || err != nil {
		t.Errorf("expected empty load, got %d %v", n, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New("", nil)
	job := r.CreateJob(testRequest())
	r.EnterStage(job.ID, models.StageImaging, 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			r.SetProgress(job.ID, 20+p)
		}(i)
		go func() {
			defer wg.Done()
			r.GetJob(job.ID)
			r.ListJobs(10)
		}()
	}
	wg.Wait()

	got, _ := r.GetJob(job.ID)
	if got.Progress != 39 {
		t.Errorf("expected max progress 39, got %d", got.Progress)
	}
}

func TestEventSequenceFollowsCommitOrder(t *testing.T) {
	rec := &recorder{}
	r := New("", rec)
	job := r.CreateJob(testRequest())
	r.EnterStage(job.ID, models.StageImaging, 15)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r.SetProgress(job.ID, 16+p)
		}(i)
	}
	wg.Wait()
	r.SetProgress(job.ID, 20) // no change, no event

	rec.mu.Lock()
	evs := append([]events.Event(nil), rec.events...)
	rec.mu.Unlock()
	sort.Slice(evs, func(i, j int) bool { return evs[i].Seq < evs[j].Seq })

	last := 0
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("expected contiguous sequence, event %d has seq %d", i, ev.Seq)
		}
		if ev.Type != events.JobProgress {
			continue
		}
		if ev.Progress <= last {
			t.Errorf("seq %d: progress %d after %d", ev.Seq, ev.Progress, last)
		}
		last = ev.Progress
	}
	if last != 45 {
		t.Errorf("expected the last progress event at 45, got %d", last)
	}
}
