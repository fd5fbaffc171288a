package timing

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/fragment/internal/models"
)

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func solarPlan() *models.ScenePlan {
	return &models.ScenePlan{Scenes: []models.Scene{
		{Index: 0, Narration: "The Sun is a star at the center of our solar system. It holds everything together with gravity.", ImagePrompt: "the sun"},
		{Index: 1, Narration: "Eight planets travel around it, from tiny Mercury to the giant Neptune far away in the cold dark.", ImagePrompt: "planets"},
		{Index: 2, Narration: "Each orbit is an ellipse, and the closer a planet is the faster it moves.", ImagePrompt: "orbits"},
	}}
}

func artifacts(durations ...time.Duration) []models.SceneArtifact {
	out := make([]models.SceneArtifact, len(durations))
	for i, d := range durations {
		out[i] = models.SceneArtifact{Index: i, Duration: d}
	}
	return out
}

func TestSynchronizeSolarSystem(t *testing.T) {
	tl, err := Synchronize(solarPlan(), artifacts(secs(18.2), secs(21.0), secs(19.5)), Options{Offset: 5 * time.Second})
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if tl.Narrated != secs(18.2)+secs(21.0)+secs(19.5) {
		t.Errorf("expected narrated total 58.7s, got %v", tl.Narrated)
	}
	if tl.Narrated.Seconds() < 58.699 || tl.Narrated.Seconds() > 58.701 {
		t.Errorf("narrated total drifted: %v", tl.Narrated)
	}
	if len(tl.Scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(tl.Scenes))
	}

	if tl.Scenes[0].Start != 5*time.Second {
		t.Errorf("first scene should start after the intro, got %v", tl.Scenes[0].Start)
	}
	for i := 1; i < len(tl.Scenes); i++ {
		if tl.Scenes[i].Start != tl.Scenes[i-1].End {
			t.Errorf("scene %d starts at %v, previous ended at %v", i, tl.Scenes[i].Start, tl.Scenes[i-1].End)
		}
	}
	last := tl.Scenes[len(tl.Scenes)-1]
	if last.End != tl.Offset+tl.Narrated {
		t.Errorf("timeline end %v != offset+narrated %v", last.End, tl.Offset+tl.Narrated)
	}

	assertCueInvariants(t, tl)
}

func assertCueInvariants(t *testing.T, tl *models.Timeline) {
	t.Helper()

	var prevEnd time.Duration
	for _, sc := range tl.Scenes {
		if len(sc.Cues) == 0 {
			continue
		}
		if sc.Cues[0].Start != sc.Start {
			t.Errorf("scene %d: first cue starts at %v, scene at %v", sc.Index, sc.Cues[0].Start, sc.Start)
		}
		if sc.Cues[len(sc.Cues)-1].End != sc.End {
			t.Errorf("scene %d: last cue ends at %v, scene at %v", sc.Index, sc.Cues[len(sc.Cues)-1].End, sc.End)
		}
		for i, c := range sc.Cues {
			if c.Start < sc.Start || c.End > sc.End {
				t.Errorf("scene %d cue %d outside scene bounds", sc.Index, i)
			}
			if c.End < c.Start {
				t.Errorf("scene %d cue %d has negative length", sc.Index, i)
			}
			if c.Start < prevEnd {
				t.Errorf("scene %d cue %d overlaps previous cue", sc.Index, i)
			}
			if i > 0 && c.Start != sc.Cues[i-1].End {
				t.Errorf("scene %d cue %d is not contiguous", sc.Index, i)
			}
			prevEnd = c.End
		}
	}
}

func TestSynchronizeFloorsZeroDuration(t *testing.T) {
	plan := &models.ScenePlan{Scenes: []models.Scene{
		{Narration: "one two three"},
		{Narration: "four five"},
	}}

	tl, err := Synchronize(plan, artifacts(0, secs(3)), Options{MinSceneDuration: 2 * time.Second})
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if !tl.Scenes[0].Floored || tl.Scenes[0].Duration() != 2*time.Second {
		t.Errorf("expected floored 2s scene, got %+v", tl.Scenes[0])
	}
	if tl.Scenes[1].Floored {
		t.Error("measured scene must not be floored")
	}
	if tl.Narrated != 5*time.Second {
		t.Errorf("expected 5s narrated, got %v", tl.Narrated)
	}
	assertCueInvariants(t, tl)
}

func TestSynchronizeRejectsMismatchedArtifacts(t *testing.T) {
	if _, err := Synchronize(solarPlan(), artifacts(secs(1)), Options{}); err == nil {
		t.Error("expected error for missing artifacts")
	}

	out := artifacts(secs(1), secs(1), secs(1))
	out[0], out[1] = out[1], out[0]
	if _, err := Synchronize(solarPlan(), out, Options{}); err == nil {
		t.Error("expected error for out-of-order artifacts")
	}
}

func TestSplitCuesChunking(t *testing.T) {
	narration := strings.TrimSpace(strings.Repeat("word ", 23))
	cues := SplitCues(narration, 0, 23*time.Second, 10)

	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %d", len(cues))
	}
	sizes := []int{8, 8, 7}
	for i, c := range cues {
		if n := len(strings.Fields(c.Text)); n != sizes[i] {
			t.Errorf("cue %d: expected %d words, got %d", i, sizes[i], n)
		}
	}
	if cues[2].End != 23*time.Second {
		t.Errorf("last cue must end at scene end, got %v", cues[2].End)
	}
}

func TestSplitCuesProportionalToCharacters(t *testing.T) {
	// "aaaa" carries 4 characters, "bbbbbbbbbbbb" carries 12.
	cues := SplitCues("aaaa bbbbbbbbbbbb", 10*time.Second, 26*time.Second, 1)
	if len(cues) != 2 {
		t.Fatalf("expected 2 cues, got %d", len(cues))
	}
	if cues[0].End != 14*time.Second {
		t.Errorf("expected boundary at 14s, got %v", cues[0].End)
	}
	if cues[1].Start != 14*time.Second || cues[1].End != 26*time.Second {
		t.Errorf("unexpected second cue %+v", cues[1])
	}
}

func TestSplitCuesEmptyNarration(t *testing.T) {
	if cues := SplitCues("   ", 0, time.Second, 10); cues != nil {
		t.Errorf("expected no cues, got %v", cues)
	}
}

func TestSplitCuesIsDeterministic(t *testing.T) {
	narration := solarPlan().Scenes[1].Narration
	a := SplitCues(narration, secs(1.3), secs(22.3), 4)
	b := SplitCues(narration, secs(1.3), secs(22.3), 4)
	if len(a) != len(b) {
		t.Fatal("cue counts differ between runs")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("cue %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestWriteSRT(t *testing.T) {
	cues := []models.SubtitleCue{
		{Text: "Hello there", Start: 5 * time.Second, End: secs(7.25)},
		{Text: "General", Start: secs(7.25), End: time.Hour + secs(1.5)},
	}

	var buf bytes.Buffer
	if err := WriteSRT(&buf, cues); err != nil {
		t.Fatalf("WriteSRT failed: %v", err)
	}

	want := "1\n00:00:05,000 --> 00:00:07,250\nHello there\n\n" +
		"2\n00:00:07,250 --> 01:00:01,500\nGeneral\n\n"
	if buf.String() != want {
		t.Errorf("unexpected SRT:\n%s", buf.String())
	}
}
