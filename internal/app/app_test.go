package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/config"
	"github.com/bobarin/fragment/internal/events"
	"github.com/bobarin/fragment/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir:        filepath.Join(t.TempDir(), "output"),
		PublicBasePath:   "/videos",
		OpenAIKey:        "sk-test",
		ScriptModel:      "gpt-4o-mini",
		ImageProvider:    "openai",
		ImageModel:       "dall-e-3",
		ImageSize:        "1792x1024",
		TTSProvider:      "openai",
		OpenAITTSModel:   "tts-1",
		OpenAITTSVoice:   "alloy",
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		BurnSubtitles:    false,
		SceneConcurrency: 2,
		StageMaxAttempts: 4,
		StageBaseDelay:   time.Second,
		StageMaxDelay:    10 * time.Second,
		ScriptTimeout:    30 * time.Second,
		ImageTimeout:     60 * time.Second,
		NarrationTimeout: 45 * time.Second,
		ComposeTimeout:   5 * time.Minute,
		MinSceneDuration: 2 * time.Second,
		CueMaxWords:      8,
	}
}

func TestPolicies(t *testing.T) {
	p := Policies(testConfig(t))

	if p.Script.MaxAttempts != 4 || p.Image.BaseDelay != time.Second || p.Narration.MaxDelay != 10*time.Second {
		t.Errorf("unexpected shared settings %+v", p)
	}
	if p.Script.Timeout != 30*time.Second || p.Image.Timeout != 60*time.Second || p.Narration.Timeout != 45*time.Second {
		t.Errorf("unexpected timeouts %v %v %v", p.Script.Timeout, p.Image.Timeout, p.Narration.Timeout)
	}
	if p.Compose != 5*time.Minute {
		t.Errorf("unexpected compose timeout %v", p.Compose)
	}
}

func TestNewWiresPipeline(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, Options{Journal: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if _, ok := a.Events.(events.Nop); !ok {
		t.Errorf("expected the no-op publisher without REDIS_URL, got %T", a.Events)
	}
	if a.Layout.Subtitles.Burn {
		t.Error("expected burn-in disabled by config")
	}
	if _, err := os.Stat(cfg.OutputDir); err != nil {
		t.Errorf("expected output dir created: %v", err)
	}
	if a.Orchestrator.Busy() {
		t.Error("expected an idle orchestrator")
	}

	// the journal is written on the first change and reloaded by the next process
	job := a.Registry.CreateJob(models.GenerationRequest{Topic: "Oceans"}.Normalize())
	again, err := New(cfg, Options{Journal: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := again.Registry.GetJob(job.ID); err != nil {
		t.Errorf("expected job restored from journal: %v", err)
	}
}

func TestNewRejectsBadLayout(t *testing.T) {
	cfg := testConfig(t)
	cfg.LayoutFile = filepath.Join(t.TempDir(), "layout.yaml")
	os.WriteFile(cfg.LayoutFile, []byte("width: 1921\n"), 0644)

	if _, err := New(cfg, Options{}); err == nil {
		t.Error("expected an error for an odd frame width")
	}
}

func TestAspectRatio(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{1920, 1080, "16:9"},
		{1080, 1920, "9:16"},
		{1080, 1080, "1:1"},
	}
	for _, tt := range tests {
		l := compose.DefaultLayout()
		l.Width, l.Height = tt.w, tt.h
		if got := aspectRatio(l); got != tt.want {
			t.Errorf("%dx%d: expected %s, got %s", tt.w, tt.h, tt.want, got)
		}
	}
}
