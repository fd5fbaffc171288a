package services

import (
	"strings"
	"testing"
	"time"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/models"
)

func TestFormatASSTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00.00"},
		{-time.Second, "0:00:00.00"},
		{5 * time.Second, "0:00:05.00"},
		{23200 * time.Millisecond, "0:00:23.20"},
		{61*time.Second + 999*time.Millisecond, "0:01:01.99"},
		{time.Hour + 2*time.Minute + 3*time.Second + 40*time.Millisecond, "1:02:03.04"},
	}

	for _, tt := range tests {
		if got := formatASSTime(tt.d); got != tt.want {
			t.Errorf("formatASSTime(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestRenderASSUsesLayout(t *testing.T) {
	style := SubtitleStyleFromLayout(compose.DefaultLayout())
	cues := []models.SubtitleCue{
		{Index: 0, Text: "Our solar system formed", Start: 5 * time.Second, End: 7500 * time.Millisecond},
		{Index: 1, Text: "about {4.5} billion years ago", Start: 7500 * time.Millisecond, End: 10 * time.Second},
	}

	out := renderASS(cues, style)
	for _, want := range []string{
		"PlayResX: 1920",
		"PlayResY: 1080",
		"Style: Default,Noto Sans,54,",
		",60,1\n",
		"Dialogue: 0,0:00:05.00,0:00:07.50,Default,,0,0,0,,Our solar system formed",
		"about (4.5) billion years ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ASS output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateASSSubtitlesRequiresCues(t *testing.T) {
	if err := GenerateASSSubtitles(nil, t.TempDir()+"/x.ass", SubtitleStyle{}); err == nil {
		t.Error("expected error for empty cues")
	}
}
