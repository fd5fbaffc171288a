package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini / Imagen image generation
// Uses the Google Gen AI SDK. The client is created lazily on first use and
// shared across scenes; the SDK client is safe for concurrent calls.
// ---------------------------------------------------------------------------

const defaultGeminiImageModel = "imagen-4.0-generate-001"

type GeminiImageAdapter struct {
	apiKey      string
	model       string
	aspectRatio string

	newClient func(ctx context.Context, cfg *genai.ClientConfig) (*genai.Client, error)

	mu     sync.Mutex
	client *genai.Client
}

var _ stage.Adapter[ImageInput, ImageOutput] = (*GeminiImageAdapter)(nil)

func NewGeminiImageAdapter(apiKey, model, aspectRatio string) *GeminiImageAdapter {
	if model == "" {
		model = defaultGeminiImageModel
	}
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}
	return &GeminiImageAdapter{apiKey: apiKey, model: model, aspectRatio: aspectRatio, newClient: genai.NewClient}
}

// genaiClient keeps the client only once creation succeeds; a failure is retried on the next call.
func (a *GeminiImageAdapter) genaiClient(ctx context.Context) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	client, err := a.newClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *GeminiImageAdapter) Execute(ctx context.Context, in ImageInput) (ImageOutput, error) {
	if err := in.validate(); err != nil {
		return ImageOutput{}, err
	}

	client, err := a.genaiClient(ctx)
	if err != nil {
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "failed to create genai client: %w", err)
	}

	prompt := DecoratePrompt(in.Scene.ImagePrompt, in.Style)
	log.Printf("[Gemini image] scene %d: generating (model=%s, aspect=%s, promptLen=%d)", in.Scene.Index, a.model, a.aspectRatio, len(prompt))

	resp, err := client.Models.GenerateImages(ctx, a.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    a.aspectRatio,
	})
	if err != nil {
		return ImageOutput{}, classifyGenAIError(models.StageImaging, err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 {
		// Safety filters drop images silently; the same prompt will be filtered again.
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "scene %d: no images returned (likely filtered)", in.Scene.Index)
	}

	img := resp.GeneratedImages[0]
	if img.Image == nil || len(img.Image.ImageBytes) == 0 {
		reason := "unknown"
		if img.RAIFilteredReason != "" {
			reason = img.RAIFilteredReason
		}
		return ImageOutput{}, stage.NewFatal(models.StageImaging, fmt.Errorf("scene %d: image blocked: %s", in.Scene.Index, reason))
	}

	return writeImage(in, img.Image.ImageBytes)
}
