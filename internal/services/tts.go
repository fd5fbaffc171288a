package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	"github.com/bobarin/fragment/internal/storage"
)

// ---------------------------------------------------------------------------
// TTSService: common interface for text-to-speech providers
// OpenAI, ElevenLabs and Cartesia implement this interface so the narrator
// can use whichever is configured without knowing the underlying provider.
// Providers return errors already classified as stage errors.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData []byte
	Format    string // "mp3", "wav", etc.
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	GenerateSpeech(ctx context.Context, text string) (*TTSResponse, error)
	Name() string
}

// DurationProber measures decoded media length.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// NarrationInput asks for a scene's narration. BasePath has no extension; the
// provider's audio format decides it.
type NarrationInput struct {
	Scene    models.Scene
	BasePath string
}

// NarrationOutput references the stored audio and its measured length.
// Duration is zero when the audio could not be measured.
type NarrationOutput struct {
	Path     string
	Format   string
	Duration time.Duration
}

// Narrator is the narration stage adapter: synthesize, store, then measure.
type Narrator struct {
	tts    TTSService
	prober DurationProber
}

var _ stage.Adapter[NarrationInput, NarrationOutput] = (*Narrator)(nil)

func NewNarrator(tts TTSService, prober DurationProber) *Narrator {
	return &Narrator{tts: tts, prober: prober}
}

func (n *Narrator) Execute(ctx context.Context, in NarrationInput) (NarrationOutput, error) {
	text := strings.TrimSpace(in.Scene.Narration)
	if text == "" {
		return NarrationOutput{}, stage.Fatalf(models.StageNarrating, "scene %d has empty narration", in.Scene.Index)
	}
	if in.BasePath == "" {
		return NarrationOutput{}, stage.Fatalf(models.StageNarrating, "scene %d has no output path", in.Scene.Index)
	}

	resp, err := n.tts.GenerateSpeech(ctx, text)
	if err != nil {
		return NarrationOutput{}, stage.AsStageError(models.StageNarrating, err)
	}
	if len(resp.AudioData) == 0 {
		return NarrationOutput{}, stage.Fatalf(models.StageNarrating, "scene %d: %s returned empty audio", in.Scene.Index, n.tts.Name())
	}

	format := resp.Format
	if format == "" {
		format = "mp3"
	}
	path := in.BasePath + "." + format
	if err := storage.WriteFileAtomic(path, resp.AudioData); err != nil {
		return NarrationOutput{}, stage.Fatalf(models.StageNarrating, "scene %d: %w", in.Scene.Index, err)
	}

	// The timeline depends on the real length, so measure the decoded file.
	duration, err := n.prober.ProbeDuration(ctx, path)
	if err != nil {
		log.Printf("[Narrator] scene %d: could not measure %s: %v", in.Scene.Index, path, err)
		duration = 0
	}

	log.Printf("[Narrator] scene %d: %s produced %d bytes, measured %v", in.Scene.Index, n.tts.Name(), len(resp.AudioData), duration)

	return NarrationOutput{Path: path, Format: format, Duration: duration}, nil
}
