package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
)

const (
	CartesiaAPIVersion     = "2024-06-10"
	cartesiaBaseURL        = "https://api.cartesia.ai"
	cartesiaDefaultModel   = "sonic-english"
	cartesiaDefaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// CartesiaService synthesizes narration with the Cartesia bytes endpoint.
type CartesiaService struct {
	apiKey     string
	baseURL    string
	apiVersion string
	voiceID    string
	modelID    string
	client     *http.Client
}

// Ensure CartesiaService implements TTSService at compile time.
var _ TTSService = (*CartesiaService)(nil)

// NewCartesiaService creates a Cartesia service. Empty baseURL or voiceID use the defaults.
func NewCartesiaService(apiKey, baseURL, voiceID string) *CartesiaService {
	if baseURL == "" {
		baseURL = cartesiaBaseURL
	}
	if voiceID == "" {
		voiceID = cartesiaDefaultVoiceID
	}
	return &CartesiaService{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: CartesiaAPIVersion,
		voiceID:    voiceID,
		modelID:    cartesiaDefaultModel,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *CartesiaService) Name() string { return "cartesia" }

type cartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        cartesiaVoiceSpecifier    `json:"voice"`
	Language     string                    `json:"language,omitempty"`
	OutputFormat cartesiaOutputFormat      `json:"output_format"`
	Config       *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed   float64 `json:"speed,omitempty"` // 0.6 to 1.5
	Emotion string  `json:"emotion,omitempty"`
}

// GenerateSpeech converts text to an MP3 at the sample rate the encoder mixes at.
func (s *CartesiaService) GenerateSpeech(ctx context.Context, text string) (*TTSResponse, error) {
	reqBody := cartesiaRequest{
		ModelID:    s.modelID,
		Transcript: text,
		Voice:      cartesiaVoiceSpecifier{Mode: "id", ID: s.voiceID},
		Language:   "en",
		OutputFormat: cartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
			BitRate:    192000,
		},
		// Slightly slower than conversation for clear explainer narration
		Config: &cartesiaGenerationConfig{Speed: 0.9, Emotion: "calm"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, stage.Fatalf(models.StageNarrating, "failed to marshal Cartesia request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts/bytes", bytes.NewReader(jsonData))
	if err != nil {
		return nil, stage.Fatalf(models.StageNarrating, "failed to create Cartesia request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", s.apiVersion)

	log.Printf("[Cartesia] Generating speech (voiceID=%s, model=%s, textLen=%d)", s.voiceID, s.modelID, len(text))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyNetworkError(models.StageNarrating, fmt.Errorf("Cartesia request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(models.StageNarrating, resp.StatusCode,
			fmt.Errorf("Cartesia returned status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stage.NewTransient(models.StageNarrating, fmt.Errorf("failed to read Cartesia audio: %w", err))
	}
	if len(audioData) == 0 {
		return nil, stage.Transientf(models.StageNarrating, "Cartesia returned empty audio")
	}

	return &TTSResponse{AudioData: audioData, Format: "mp3"}, nil
}
