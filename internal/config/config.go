package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	Environment        string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Output
	OutputDir      string
	PublicBasePath string // URL prefix the output dir is served under
	LayoutFile     string // Optional YAML composition layout

	// OpenAI (script, images, speech)
	OpenAIKey     string
	OpenAIBaseURL string
	ScriptModel   string

	// Images
	ImageProvider    string // openai | gemini
	ImageModel       string
	ImageSize        string
	GeminiKey        string
	GeminiImageModel string

	// Narration
	TTSProvider       string // openai | elevenlabs | cartesia
	OpenAITTSModel    string
	OpenAITTSVoice    string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	CartesiaKey       string
	CartesiaURL       string
	CartesiaVoiceID   string

	// Encoding
	FFmpegPath    string
	FFprobePath   string
	BurnSubtitles bool

	// Pipeline limits
	SceneConcurrency int
	StageMaxAttempts int
	StageBaseDelay   time.Duration
	StageMaxDelay    time.Duration
	ScriptTimeout    time.Duration
	ImageTimeout     time.Duration
	NarrationTimeout time.Duration
	ComposeTimeout   time.Duration
	MinSceneDuration time.Duration
	CueMaxWords      int

	// Redis (optional job event fan-out)
	RedisURL string

	// Supabase (optional mirror of finished videos)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		Environment:           getEnv("ENVIRONMENT", "development"),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		OutputDir:             getEnv("OUTPUT_DIR", "./output"),
		PublicBasePath:        getEnv("PUBLIC_BASE_PATH", "/videos"),
		LayoutFile:            getEnv("LAYOUT_FILE", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		ScriptModel:           getEnv("SCRIPT_MODEL", "gpt-4o-mini"),
		ImageProvider:         strings.ToLower(getEnv("IMAGE_PROVIDER", "openai")),
		ImageModel:            getEnv("IMAGE_MODEL", "dall-e-3"),
		ImageSize:             getEnv("IMAGE_SIZE", "1792x1024"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiImageModel:      getEnv("GEMINI_IMAGE_MODEL", "imagen-4.0-generate-001"),
		TTSProvider:           strings.ToLower(getEnv("TTS_PROVIDER", "openai")),
		OpenAITTSModel:        getEnv("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", "alloy"),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		CartesiaKey:           getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:           getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID:       getEnv("CARTESIA_VOICE_ID", ""),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		BurnSubtitles:         getEnvBool("BURN_SUBTITLES", true),
		SceneConcurrency:      getEnvInt("SCENE_CONCURRENCY", 3),
		StageMaxAttempts:      getEnvInt("STAGE_MAX_ATTEMPTS", 3),
		StageBaseDelay:        getEnvDuration("STAGE_BASE_DELAY", 2*time.Second),
		StageMaxDelay:         getEnvDuration("STAGE_MAX_DELAY", 30*time.Second),
		ScriptTimeout:         getEnvDuration("SCRIPT_TIMEOUT", 90*time.Second),
		ImageTimeout:          getEnvDuration("IMAGE_TIMEOUT", 120*time.Second),
		NarrationTimeout:      getEnvDuration("NARRATION_TIMEOUT", 90*time.Second),
		ComposeTimeout:        getEnvDuration("COMPOSE_TIMEOUT", 10*time.Minute),
		MinSceneDuration:      time.Duration(getEnvInt("MIN_SCENE_SECONDS", 2)) * time.Second,
		CueMaxWords:           getEnvInt("CUE_MAX_WORDS", 10),
		RedisURL:              getEnv("REDIS_URL", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "fragment-videos"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and provider choices.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	switch c.ImageProvider {
	case "openai":
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when IMAGE_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unknown IMAGE_PROVIDER %q (allowed: openai, gemini)", c.ImageProvider)
	}

	switch c.TTSProvider {
	case "openai":
	case "elevenlabs":
		if c.ElevenLabsKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
	case "cartesia":
		if c.CartesiaKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=cartesia")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q (allowed: openai, elevenlabs, cartesia)", c.TTSProvider)
	}

	if strings.Trim(c.PublicBasePath, "/") == "" {
		return fmt.Errorf("PUBLIC_BASE_PATH must not be the site root")
	}
	if c.SceneConcurrency < 1 {
		return fmt.Errorf("SCENE_CONCURRENCY must be at least 1")
	}
	if c.StageMaxAttempts < 1 {
		return fmt.Errorf("STAGE_MAX_ATTEMPTS must be at least 1")
	}
	if c.MinSceneDuration <= 0 {
		return fmt.Errorf("MIN_SCENE_SECONDS must be positive")
	}
	if c.CueMaxWords < 1 {
		return fmt.Errorf("CUE_MAX_WORDS must be at least 1")
	}

	// The mirror is all or nothing
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	return nil
}

// MirrorEnabled reports whether finished videos are copied to Supabase Storage.
func (c *Config) MirrorEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "10m") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
