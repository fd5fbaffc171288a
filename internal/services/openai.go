package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultScriptModel = "gpt-4o-mini"

	// Narration pace used to size scene scripts (~150 words per minute).
	wordsPerSecond = 2.5

	maxLogLen = 2000
)

// OpenAIService owns the API client shared by the script, image and speech adapters.
type OpenAIService struct {
	client *openai.Client
}

// NewOpenAIService creates a client. baseURL overrides the API endpoint when non-empty.
func NewOpenAIService(apiKey, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIService{
		client: openai.NewClientWithConfig(cfg),
	}
}

// ---------------------------------------------------------------------------
// Script stage
// ---------------------------------------------------------------------------

// ScriptInput is the request for the script stage.
type ScriptInput struct {
	Request    models.GenerationRequest
	SceneCount int
}

// ScriptWriter turns a topic into a scene plan via chat completion in JSON mode.
type ScriptWriter struct {
	openai *OpenAIService
	model  string
}

var _ stage.Adapter[ScriptInput, *models.ScenePlan] = (*ScriptWriter)(nil)

func NewScriptWriter(svc *OpenAIService, model string) *ScriptWriter {
	if model == "" {
		model = defaultScriptModel
	}
	return &ScriptWriter{openai: svc, model: model}
}

// scriptResponse is the JSON shape requested from the model.
type scriptResponse struct {
	Title  string `json:"title"`
	Scenes []struct {
		Narration   string `json:"narration"`
		ImagePrompt string `json:"image_prompt"`
	} `json:"scenes"`
}

func (w *ScriptWriter) Execute(ctx context.Context, in ScriptInput) (*models.ScenePlan, error) {
	if err := in.Request.Validate(); err != nil {
		return nil, stage.NewFatal(models.StageScripting, err)
	}
	if in.SceneCount <= 0 {
		return nil, stage.Fatalf(models.StageScripting, "scene count must be positive, got %d", in.SceneCount)
	}

	resp, err := w.openai.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildScriptSystemPrompt(in),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildScriptUserPrompt(in),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, classifyOpenAIError(models.StageScripting, err)
	}

	if len(resp.Choices) == 0 {
		return nil, stage.Fatalf(models.StageScripting, "no response from openai")
	}

	plan, err := parseScenePlan(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, stage.NewFatal(models.StageScripting, err)
	}

	log.Printf("[OpenAI script] plan generated: %d scenes (requested %d), title=%q", len(plan.Scenes), in.SceneCount, plan.Title)
	return plan, nil
}

// parseScenePlan decodes and validates the model output. Malformed output is never retried.
func parseScenePlan(raw string) (*models.ScenePlan, error) {
	body, err := extractJSONObject(raw)
	if err != nil {
		logRawResponse(raw)
		return nil, err
	}

	var parsed scriptResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		log.Printf("[OpenAI script] parse failed: %v", err)
		logRawResponse(raw)
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}

	plan := &models.ScenePlan{Title: strings.TrimSpace(parsed.Title)}
	for i, s := range parsed.Scenes {
		plan.Scenes = append(plan.Scenes, models.Scene{
			Index:       i,
			Narration:   strings.TrimSpace(s.Narration),
			ImagePrompt: strings.TrimSpace(s.ImagePrompt),
		})
	}

	if err := plan.Validate(); err != nil {
		logRawResponse(raw)
		return nil, err
	}
	return plan, nil
}

// extractJSONObject strips markdown fences and returns the outermost JSON object.
func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("empty script response")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("could not locate JSON object in: %q", truncate(t, 200))
}

func logRawResponse(raw string) {
	log.Printf("[OpenAI script] raw response: %s", truncate(raw, maxLogLen))
}

func buildScriptSystemPrompt(in ScriptInput) string {
	secondsPerScene := in.Request.Duration / in.SceneCount
	if secondsPerScene < 1 {
		secondsPerScene = 1
	}
	wordsPerScene := int(float64(secondsPerScene) * wordsPerSecond)

	return fmt.Sprintf(`You are a script writer for short %s explainer videos.

Write a narrated video of about %d seconds split into exactly %d scenes.
Each scene is one still image shown while its narration is read aloud.

Guidelines:
- Each narration should take about %d seconds to read aloud (roughly %d words).
- Write for the ear: short sentences, plain words, no lists, no stage directions.
- The first scene hooks the viewer; the last scene wraps up the topic.
- Scenes should flow into each other as one continuous explanation.

Image prompts:
- Describe one concrete, photographable scene that illustrates the narration.
- Include subject, setting and lighting. No text, captions or logos in the image.

Respond with a JSON object only:
{"title": "short video title", "scenes": [{"narration": "...", "image_prompt": "..."}]}
Every scene must have a non-empty narration and image_prompt.`,
		in.Request.Style, in.Request.Duration, in.SceneCount, secondsPerScene, wordsPerScene)
}

func buildScriptUserPrompt(in ScriptInput) string {
	prompt := fmt.Sprintf("Topic: %s\nTarget duration: %d seconds\nScenes: %d", in.Request.Topic, in.Request.Duration, in.SceneCount)
	if len(in.Request.KeyPoints) > 0 {
		prompt += "\n\nCover these key points in order:\n- " + strings.Join(in.Request.KeyPoints, "\n- ")
	}
	return prompt
}
