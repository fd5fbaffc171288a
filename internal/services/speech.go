package services

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// OpenAI Text-to-Speech
// ---------------------------------------------------------------------------

const (
	defaultSpeechModel = "tts-1"
	defaultSpeechVoice = "alloy"
)

type OpenAISpeechService struct {
	openai *OpenAIService
	model  string
	voice  string
}

// Ensure OpenAISpeechService implements TTSService at compile time.
var _ TTSService = (*OpenAISpeechService)(nil)

func NewOpenAISpeechService(svc *OpenAIService, model, voice string) *OpenAISpeechService {
	if model == "" {
		model = defaultSpeechModel
	}
	if voice == "" {
		voice = defaultSpeechVoice
	}
	return &OpenAISpeechService{openai: svc, model: model, voice: voice}
}

func (s *OpenAISpeechService) Name() string { return "openai-tts" }

func (s *OpenAISpeechService) GenerateSpeech(ctx context.Context, text string) (*TTSResponse, error) {
	log.Printf("[OpenAI TTS] Generating speech (model=%s, voice=%s, textLen=%d)", s.model, s.voice, len(text))

	resp, err := s.openai.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, classifyOpenAIError(models.StageNarrating, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, stage.NewTransient(models.StageNarrating, fmt.Errorf("failed to read speech response: %w", err))
	}

	return &TTSResponse{AudioData: audio, Format: "mp3"}, nil
}
