// Package app builds the pipeline from configuration. Both the HTTP server and
// the CLI start from here.
package app

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/config"
	"github.com/bobarin/fragment/internal/events"
	"github.com/bobarin/fragment/internal/orchestrator"
	"github.com/bobarin/fragment/internal/registry"
	"github.com/bobarin/fragment/internal/services"
	"github.com/bobarin/fragment/internal/stage"
	"github.com/bobarin/fragment/internal/storage"
)

// Version is overridden at build time with -ldflags "-X .../internal/app.Version=..."
var Version = "dev"

const journalFile = "jobs.json"

type Options struct {
	// Journal persists the registry to <OUTPUT_DIR>/jobs.json. Only one
	// process should own the journal at a time.
	Journal bool
}

type App struct {
	Config       *config.Config
	Layout       compose.Layout
	Store        *storage.Local
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Script       *services.ScriptWriter
	Events       events.Publisher
}

func New(cfg *config.Config, opts Options) (*App, error) {
	layout, err := compose.LoadLayout(cfg.LayoutFile)
	if err != nil {
		return nil, err
	}
	layout.Subtitles.Burn = layout.Subtitles.Burn && cfg.BurnSubtitles

	store, err := storage.NewLocal(cfg.OutputDir, cfg.PublicBasePath)
	if err != nil {
		return nil, err
	}
	log.Printf("Output directory: %s (served under %s)", store.Root(), cfg.PublicBasePath)

	var pub events.Publisher = events.Nop{}
	if cfg.RedisURL != "" {
		rp, err := events.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			log.Printf("[Events] WARNING: Redis unavailable, job events will not be published: %v", err)
		} else {
			pub = rp
			log.Println("[Events] Publishing job events to Redis")
		}
	}

	journal := ""
	if opts.Journal {
		journal = filepath.Join(store.Root(), journalFile)
	}
	reg := registry.New(journal, pub)
	if journal != "" {
		n, err := reg.Load()
		if err != nil {
			pub.Close()
			return nil, fmt.Errorf("failed to load job journal: %w", err)
		}
		log.Printf("Loaded %d jobs from %s", n, journal)
	}

	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath)
	script := services.NewScriptWriter(openaiSvc, cfg.ScriptModel)

	adapters := orchestrator.Adapters{
		Script:    script,
		Image:     newImageAdapter(cfg, openaiSvc, layout),
		Narration: services.NewNarrator(newTTS(cfg, openaiSvc), ffmpegSvc),
	}

	orch := orchestrator.New(reg, store, adapters, compose.NewEngine(ffmpegSvc), orchestrator.Config{
		Layout:           layout,
		MinSceneDuration: cfg.MinSceneDuration,
		MaxWordsPerCue:   cfg.CueMaxWords,
		SceneConcurrency: cfg.SceneConcurrency,
		Policies:         Policies(cfg),
	})

	if cfg.MirrorEnabled() {
		orch.WithMirror(storage.NewMirror(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket))
		log.Printf("Mirroring finished videos to Supabase bucket %s", cfg.SupabaseStorageBucket)
	}

	return &App{
		Config:       cfg,
		Layout:       layout,
		Store:        store,
		Registry:     reg,
		Orchestrator: orch,
		Script:       script,
		Events:       pub,
	}, nil
}

func (a *App) Close() error {
	return a.Events.Close()
}

// Policies derives the per-stage retry policies from configuration.
func Policies(cfg *config.Config) orchestrator.Policies {
	base := stage.DefaultPolicy()
	base.MaxAttempts = cfg.StageMaxAttempts
	base.BaseDelay = cfg.StageBaseDelay
	base.MaxDelay = cfg.StageMaxDelay

	script, image, narration := base, base, base
	script.Timeout = cfg.ScriptTimeout
	image.Timeout = cfg.ImageTimeout
	narration.Timeout = cfg.NarrationTimeout

	return orchestrator.Policies{
		Script:    script,
		Image:     image,
		Narration: narration,
		Compose:   cfg.ComposeTimeout,
	}
}

func newImageAdapter(cfg *config.Config, openaiSvc *services.OpenAIService, layout compose.Layout) stage.Adapter[services.ImageInput, services.ImageOutput] {
	if cfg.ImageProvider == "gemini" {
		log.Printf("Image provider: Gemini Imagen (model: %s)", cfg.GeminiImageModel)
		return services.NewGeminiImageAdapter(cfg.GeminiKey, cfg.GeminiImageModel, aspectRatio(layout))
	}
	log.Printf("Image provider: OpenAI (model: %s, size: %s)", cfg.ImageModel, cfg.ImageSize)
	return services.NewOpenAIImageAdapter(openaiSvc, cfg.ImageModel, cfg.ImageSize)
}

func newTTS(cfg *config.Config, openaiSvc *services.OpenAIService) services.TTSService {
	switch cfg.TTSProvider {
	case "elevenlabs":
		log.Printf("TTS provider: ElevenLabs (voice: %s)", cfg.ElevenLabsVoiceID)
		return services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	case "cartesia":
		log.Printf("TTS provider: Cartesia (voice: %s)", cfg.CartesiaVoiceID)
		return services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID)
	}
	log.Printf("TTS provider: OpenAI (model: %s, voice: %s)", cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
	return services.NewOpenAISpeechService(openaiSvc, cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
}

// aspectRatio picks the closest Imagen aspect ratio for the output frame.
func aspectRatio(layout compose.Layout) string {
	switch {
	case layout.Width > layout.Height:
		return "16:9"
	case layout.Width < layout.Height:
		return "9:16"
	default:
		return "1:1"
	}
}
