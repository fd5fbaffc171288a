package compose

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CardLayout describes a fixed-length bookend segment.
type CardLayout struct {
	Duration   time.Duration `yaml:"duration"`
	Text       string        `yaml:"text"`       // intro falls back to the topic when empty
	Background string        `yaml:"background"` // image path; empty renders a solid color
	Color      string        `yaml:"color"`      // ffmpeg color name or hex
	FontSize   int           `yaml:"font_size"`
}

// MotionLayout controls the pan/zoom applied to scene images.
type MotionLayout struct {
	// Zoom is the magnification at the tight end of every effect.
	Zoom float64 `yaml:"zoom"`
	// Effects is the rotation applied by scene index.
	Effects []ClipEffect `yaml:"effects"`
}

type SubtitleLayout struct {
	Burn     bool   `yaml:"burn"`
	FontName string `yaml:"font_name"`
	FontSize int    `yaml:"font_size"`
	MarginV  int    `yaml:"margin_v"`
}

// Layout is every parameter that influences rendered output. Identical layouts and
// artifacts produce identical render plans.
type Layout struct {
	Width     int            `yaml:"width"`
	Height    int            `yaml:"height"`
	FPS       int            `yaml:"fps"`
	Fade      time.Duration  `yaml:"fade"`
	FontFile  string         `yaml:"font_file"`
	Intro     CardLayout     `yaml:"intro"`
	Outro     CardLayout     `yaml:"outro"`
	Motion    MotionLayout   `yaml:"motion"`
	Subtitles SubtitleLayout `yaml:"subtitles"`
}

// DefaultLayout is 1080p at 24fps with 5s intro and outro cards.
func DefaultLayout() Layout {
	return Layout{
		Width:  1920,
		Height: 1080,
		FPS:    24,
		Fade:   time.Second,
		Intro: CardLayout{
			Duration: 5 * time.Second,
			Color:    "black",
			FontSize: 72,
		},
		Outro: CardLayout{
			Duration: 5 * time.Second,
			Text:     "Made with Fragment",
			Color:    "black",
			FontSize: 64,
		},
		Motion: MotionLayout{
			Zoom:    1.3,
			Effects: append([]ClipEffect(nil), allEffects...),
		},
		Subtitles: SubtitleLayout{
			Burn:     true,
			FontName: "Noto Sans",
			FontSize: 54,
			MarginV:  60,
		},
	}
}

// LoadLayout overlays the YAML file at path on the defaults. An empty path returns the defaults.
func LoadLayout(path string) (Layout, error) {
	layout := DefaultLayout()
	if path == "" {
		return layout, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return layout, fmt.Errorf("failed to read layout file: %w", err)
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return layout, fmt.Errorf("failed to parse layout file %s: %w", path, err)
	}
	if err := layout.Validate(); err != nil {
		return layout, fmt.Errorf("invalid layout file %s: %w", path, err)
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 || l.Width%2 != 0 || l.Height%2 != 0 {
		return fmt.Errorf("resolution must be positive and even, got %dx%d", l.Width, l.Height)
	}
	if l.FPS <= 0 || l.FPS > 120 {
		return fmt.Errorf("fps must be between 1 and 120, got %d", l.FPS)
	}
	if l.Intro.Duration < 0 || l.Outro.Duration < 0 || l.Fade < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if l.Motion.Zoom < 1 || l.Motion.Zoom > 3 {
		return fmt.Errorf("motion zoom must be between 1 and 3, got %.2f", l.Motion.Zoom)
	}
	if len(l.Motion.Effects) == 0 {
		return fmt.Errorf("at least one motion effect is required")
	}
	for _, e := range l.Motion.Effects {
		if !e.Valid() {
			return fmt.Errorf("unknown motion effect %q", e)
		}
	}
	return nil
}
