package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	"github.com/bobarin/fragment/internal/storage"
	openai "github.com/sashabaranov/go-openai"
)

// ImageInput asks for one scene illustration written to OutputPath.
type ImageInput struct {
	Scene      models.Scene
	Style      models.Style
	OutputPath string
}

// ImageOutput references the stored image.
type ImageOutput struct {
	Path  string
	Bytes int
}

func (in ImageInput) validate() error {
	if strings.TrimSpace(in.Scene.ImagePrompt) == "" {
		return stage.Fatalf(models.StageImaging, "scene %d has an empty image prompt", in.Scene.Index)
	}
	if in.OutputPath == "" {
		return stage.Fatalf(models.StageImaging, "scene %d has no output path", in.Scene.Index)
	}
	return nil
}

// styleDirections is appended to every image prompt for the style.
var styleDirections = map[models.Style]string{
	models.StyleEducational: "Professional photography, detailed, clear focus. No text or lettering.",
}

// DecoratePrompt wraps a scene prompt with the style's photographic direction.
func DecoratePrompt(prompt string, style models.Style) string {
	prompt = strings.TrimRight(strings.TrimSpace(prompt), ". ")
	direction, ok := styleDirections[style]
	if !ok {
		direction = styleDirections[models.StyleEducational]
	}
	return fmt.Sprintf("High quality realistic image: %s. %s", prompt, direction)
}

// ---------------------------------------------------------------------------
// OpenAI image generation (DALL-E)
// ---------------------------------------------------------------------------

const (
	defaultImageModel   = "dall-e-3"
	defaultImageSize    = "1792x1024"
	defaultImageQuality = "standard"
)

type OpenAIImageAdapter struct {
	openai *OpenAIService
	model  string
	size   string
}

var _ stage.Adapter[ImageInput, ImageOutput] = (*OpenAIImageAdapter)(nil)

func NewOpenAIImageAdapter(svc *OpenAIService, model, size string) *OpenAIImageAdapter {
	if model == "" {
		model = defaultImageModel
	}
	if size == "" {
		size = defaultImageSize
	}
	return &OpenAIImageAdapter{openai: svc, model: model, size: size}
}

func (a *OpenAIImageAdapter) Execute(ctx context.Context, in ImageInput) (ImageOutput, error) {
	if err := in.validate(); err != nil {
		return ImageOutput{}, err
	}

	prompt := DecoratePrompt(in.Scene.ImagePrompt, in.Style)
	log.Printf("[OpenAI image] scene %d: generating (model=%s, size=%s, promptLen=%d)", in.Scene.Index, a.model, a.size, len(prompt))

	resp, err := a.openai.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          a.model,
		N:              1,
		Size:           a.size,
		Quality:        defaultImageQuality,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return ImageOutput{}, classifyOpenAIError(models.StageImaging, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "scene %d: no image data in response", in.Scene.Index)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "scene %d: failed to decode image: %w", in.Scene.Index, err)
	}

	return writeImage(in, data)
}

func writeImage(in ImageInput, data []byte) (ImageOutput, error) {
	if len(data) == 0 {
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "scene %d: empty image", in.Scene.Index)
	}
	if err := storage.WriteFileAtomic(in.OutputPath, data); err != nil {
		return ImageOutput{}, stage.Fatalf(models.StageImaging, "scene %d: %w", in.Scene.Index, err)
	}
	log.Printf("[Images] scene %d: stored %d bytes at %s", in.Scene.Index, len(data), in.OutputPath)
	return ImageOutput{Path: in.OutputPath, Bytes: len(data)}, nil
}
