package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	req := GenerationRequest{
		Topic:     "  Solar System  ",
		Duration:  45,
		KeyPoints: []string{"Sun", "  ", "", " Planets "},
	}.Normalize()

	if req.Topic != "Solar System" {
		t.Errorf("expected trimmed topic, got %q", req.Topic)
	}
	if req.Duration != 45 {
		t.Errorf("expected duration kept, got %d", req.Duration)
	}
	if req.Style != StyleEducational {
		t.Errorf("expected style %s, got %s", StyleEducational, req.Style)
	}
	if len(req.KeyPoints) != 2 || req.KeyPoints[1] != "Planets" {
		t.Errorf("expected blank key points dropped, got %v", req.KeyPoints)
	}
}

func TestDecodeDefaultsOnlyMissingDuration(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		invalid bool
	}{
		{"missing", `{"topic":"Solar System"}`, DefaultDuration, false},
		{"explicit", `{"topic":"Solar System","duration":120}`, 120, false},
		{"explicit zero", `{"topic":"Solar System","duration":0}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req GenerationRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			req = req.Normalize()
			if req.Duration != tt.want {
				t.Errorf("expected duration %d, got %d", tt.want, req.Duration)
			}
			err := req.Validate()
			var ve *ValidationError
			if tt.invalid && (!errors.As(err, &ve) || ve.Field != "duration") {
				t.Errorf("expected a duration ValidationError, got %v", err)
			}
			if !tt.invalid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   GenerationRequest
		field string
	}{
		{"valid", GenerationRequest{Topic: "Solar System", Duration: 60, Style: StyleEducational}, ""},
		{"empty topic", GenerationRequest{Topic: "", Duration: 60, Style: StyleEducational}, "topic"},
		{"long topic", GenerationRequest{Topic: strings.Repeat("a", MaxTopicLength+1), Duration: 60, Style: StyleEducational}, "topic"},
		{"too short", GenerationRequest{Topic: "x", Duration: 5, Style: StyleEducational}, "duration"},
		{"too long", GenerationRequest{Topic: "x", Duration: 301, Style: StyleEducational}, "duration"},
		{"zero", GenerationRequest{Topic: "x", Duration: 0, Style: StyleEducational}, "duration"},
		{"negative", GenerationRequest{Topic: "x", Duration: -1, Style: StyleEducational}, "duration"},
		{"too many key points", GenerationRequest{Topic: "x", Duration: 60, Style: StyleEducational, KeyPoints: make([]string, MaxKeyPoints+1)}, "key_points"},
		{"bad style", GenerationRequest{Topic: "x", Duration: 60, Style: "cinematic"}, "style"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("expected valid request, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestSceneCountFor(t *testing.T) {
	tests := map[int]int{10: 1, 30: 2, 60: 3, 100: 5, 300: 15}
	for duration, want := range tests {
		if got := SceneCountFor(duration); got != want {
			t.Errorf("SceneCountFor(%d) = %d, want %d", duration, got, want)
		}
	}
}

func TestAssignDurationHints(t *testing.T) {
	tests := []struct {
		total  int
		scenes int
		want   []int
	}{
		{60, 3, []int{20, 20, 20}},
		{61, 3, []int{21, 20, 20}},
		{62, 3, []int{21, 21, 20}},
		{10, 4, []int{3, 3, 2, 2}},
		{7, 1, []int{7}},
	}

	for _, tt := range tests {
		plan := &ScenePlan{Scenes: make([]Scene, tt.scenes)}
		for i := range plan.Scenes {
			plan.Scenes[i].Index = 99
		}
		plan.AssignDurationHints(tt.total)

		if plan.TotalHint() != tt.total {
			t.Errorf("total %d over %d scenes: hints sum to %d", tt.total, tt.scenes, plan.TotalHint())
		}
		for i, s := range plan.Scenes {
			if s.Index != i {
				t.Errorf("scene %d reindexed to %d", i, s.Index)
			}
			if s.DurationHint != tt.want[i] {
				t.Errorf("total %d scene %d: expected hint %d, got %d", tt.total, i, tt.want[i], s.DurationHint)
			}
		}
	}
}

func TestScenePlanValidate(t *testing.T) {
	if err := (&ScenePlan{}).Validate(); err == nil {
		t.Error("expected error for empty plan")
	}

	plan := &ScenePlan{Scenes: []Scene{{Narration: "hello", ImagePrompt: ""}}}
	if err := plan.Validate(); err == nil || !strings.Contains(err.Error(), "image_prompt") {
		t.Errorf("expected missing image_prompt error, got %v", err)
	}

	plan.Scenes[0].ImagePrompt = "a sun"
	if err := plan.Validate(); err != nil {
		t.Errorf("expected valid plan, got %v", err)
	}
}

func TestJobCanEnter(t *testing.T) {
	job := &Job{Status: JobStatusQueued}
	if !job.CanEnter(StageScripting) {
		t.Fatal("queued job should enter scripting")
	}

	job.Status = JobStatusRunning
	job.Stage = StageNarrating
	if job.CanEnter(StageImaging) {
		t.Error("running job must not move back to an earlier stage")
	}
	if job.CanEnter(StageNarrating) {
		t.Error("running job must not re-enter its current stage")
	}
	if !job.CanEnter(StageComposing) {
		t.Error("running job should move forward")
	}

	job.Status = JobStatusFailed
	if job.CanEnter(StageComposing) {
		t.Error("terminal job must not move")
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{
		Request:   GenerationRequest{KeyPoints: []string{"a"}},
		Plan:      &ScenePlan{Scenes: []Scene{{Narration: "n"}}},
		Artifacts: []SceneArtifact{{Index: 0}},
		Error:     &JobError{Message: "boom"},
	}

	c := job.Clone()
	c.Request.KeyPoints[0] = "b"
	c.Plan.Scenes[0].Narration = "changed"
	c.Artifacts[0].Index = 5
	c.Error.Message = "changed"

	if job.Request.KeyPoints[0] != "a" || job.Plan.Scenes[0].Narration != "n" ||
		job.Artifacts[0].Index != 0 || job.Error.Message != "boom" {
		t.Error("clone shares memory with the original job")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	statuses := map[JobStatus]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusSucceeded: true,
		JobStatusFailed:    true,
	}
	for status, want := range statuses {
		if status.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", status, !want)
		}
	}
}
