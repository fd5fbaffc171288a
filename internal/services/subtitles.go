package services

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/models"
)

// ---------------------------------------------------------------------------
// ASS Subtitle Generator
//
// Renders timed cues in ASS (Advanced SubStation Alpha) format for burn-in.
// One dialogue line per cue; the script resolution matches the output video so
// font size and margins are in output pixels.
//
// Visual style:
//   - White text with a dark outline and soft shadow, bottom-center aligned
//   - Long cues wrap at the video edge (WrapStyle 0, smart wrapping)
// ---------------------------------------------------------------------------

const (
	// ASS colors are in &HAABBGGRR format (hex, note: BGR not RGB)
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"

	subtitleOutline = 3
	subtitleShadow  = 1
)

// SubtitleStyle is the resolved burn-in look for a render.
type SubtitleStyle struct {
	FontName string
	FontSize int
	MarginV  int
	Width    int
	Height   int
}

// SubtitleStyleFromLayout takes the subtitle settings and canvas size from a layout.
func SubtitleStyleFromLayout(layout compose.Layout) SubtitleStyle {
	return SubtitleStyle{
		FontName: layout.Subtitles.FontName,
		FontSize: layout.Subtitles.FontSize,
		MarginV:  layout.Subtitles.MarginV,
		Width:    layout.Width,
		Height:   layout.Height,
	}
}

// GenerateASSSubtitles writes cues to an ASS file at outputPath.
func GenerateASSSubtitles(cues []models.SubtitleCue, outputPath string, style SubtitleStyle) error {
	if len(cues) == 0 {
		return fmt.Errorf("no cues to generate subtitles from")
	}
	if err := os.WriteFile(outputPath, []byte(renderASS(cues, style)), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return nil
}

func renderASS(cues []models.SubtitleCue, style SubtitleStyle) string {
	if style.FontName == "" {
		style.FontName = "Noto Sans"
	}
	if style.FontSize <= 0 {
		style.FontSize = 54
	}

	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", style.Width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", style.Height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,0,0,0,0,100,100,0,0,1,%d,%d,2,80,80,%d,1\n",
		style.FontName, style.FontSize,
		assColorWhite,     // PrimaryColour (text)
		assColorWhite,     // SecondaryColour
		assColorBlack,     // OutlineColour
		assColorSemiBlack, // BackColour (shadow)
		subtitleOutline,
		subtitleShadow,
		style.MarginV,
	)
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, cue := range cues {
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(cue.Start),
			formatASSTime(cue.End),
			escapeASSText(cue.Text),
		)
	}

	return sb.String()
}

// escapeASSText keeps narration from being read as override blocks or line breaks.
func escapeASSText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// formatASSTime converts a duration to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	cs := int64(d / (10 * time.Millisecond))

	hours := cs / 360000
	minutes := (cs % 360000) / 6000
	secs := (cs % 6000) / 100
	centiseconds := cs % 100

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
