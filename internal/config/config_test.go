package config

import (
	"os"
	"testing"
	"time"
)

// isolate moves into an empty directory so a developer's .env is not picked up.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != "8080" || cfg.OutputDir != "./output" || cfg.PublicBasePath != "/videos" {
		t.Errorf("unexpected server defaults %+v", cfg)
	}
	if cfg.ImageProvider != "openai" || cfg.TTSProvider != "openai" || cfg.ScriptModel != "gpt-4o-mini" {
		t.Errorf("unexpected provider defaults %+v", cfg)
	}
	if cfg.SceneConcurrency != 3 || cfg.StageMaxAttempts != 3 || cfg.CueMaxWords != 10 {
		t.Errorf("unexpected limits %+v", cfg)
	}
	if cfg.StageBaseDelay != 2*time.Second || cfg.ComposeTimeout != 10*time.Minute || cfg.MinSceneDuration != 2*time.Second {
		t.Errorf("unexpected durations %+v", cfg)
	}
	if !cfg.BurnSubtitles || cfg.MirrorEnabled() {
		t.Errorf("unexpected toggles %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("IMAGE_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-test")
	t.Setenv("TTS_PROVIDER", "elevenlabs")
	t.Setenv("ELEVENLABS_API_KEY", "el-test")
	t.Setenv("SCRIPT_TIMEOUT", "45s")
	t.Setenv("IMAGE_TIMEOUT", "30")
	t.Setenv("NARRATION_TIMEOUT", "not-a-duration")
	t.Setenv("BURN_SUBTITLES", "false")
	t.Setenv("SUPABASE_URL", "https://x.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ImageProvider != "gemini" || cfg.TTSProvider != "elevenlabs" {
		t.Errorf("unexpected providers %s %s", cfg.ImageProvider, cfg.TTSProvider)
	}
	if cfg.ScriptTimeout != 45*time.Second || cfg.ImageTimeout != 30*time.Second || cfg.NarrationTimeout != 90*time.Second {
		t.Errorf("unexpected timeouts %v %v %v", cfg.ScriptTimeout, cfg.ImageTimeout, cfg.NarrationTimeout)
	}
	if cfg.BurnSubtitles || !cfg.MirrorEnabled() {
		t.Errorf("unexpected toggles %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing openai key", map[string]string{}},
		{"gemini without key", map[string]string{"OPENAI_API_KEY": "k", "IMAGE_PROVIDER": "gemini"}},
		{"unknown image provider", map[string]string{"OPENAI_API_KEY": "k", "IMAGE_PROVIDER": "midjourney"}},
		{"elevenlabs without key", map[string]string{"OPENAI_API_KEY": "k", "TTS_PROVIDER": "elevenlabs"}},
		{"unknown tts provider", map[string]string{"OPENAI_API_KEY": "k", "TTS_PROVIDER": "polly"}},
		{"cartesia without key", map[string]string{"OPENAI_API_KEY": "k", "TTS_PROVIDER": "cartesia"}},
		{"zero concurrency", map[string]string{"OPENAI_API_KEY": "k", "SCENE_CONCURRENCY": "0"}},
		{"root public path", map[string]string{"OPENAI_API_KEY": "k", "PUBLIC_BASE_PATH": "/"}},
		{"half a mirror", map[string]string{"OPENAI_API_KEY": "k", "SUPABASE_URL": "https://x.supabase.co"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv("OPENAI_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
