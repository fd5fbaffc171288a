package compose

import (
	"fmt"
	"time"

	"github.com/bobarin/fragment/internal/models"
)

type SegmentKind string

const (
	SegmentIntro SegmentKind = "intro"
	SegmentScene SegmentKind = "scene"
	SegmentOutro SegmentKind = "outro"
)

// Segment is one contiguous piece of the render timeline.
type Segment struct {
	Kind     SegmentKind
	Index    int // scene index, -1 for cards
	Start    time.Duration
	Duration time.Duration
	FadeIn   time.Duration
	FadeOut  time.Duration

	// Scene segments
	ImagePath string
	AudioPath string
	Motion    Motion

	// Card segments
	Text       string
	Background string
	Color      string
	FontSize   int
}

// Name is a stable label used in work file names and errors.
func (s Segment) Name() string {
	if s.Kind == SegmentScene {
		return fmt.Sprintf("scene_%03d", s.Index)
	}
	return string(s.Kind)
}

// Frames returns how many frames the segment occupies when the whole timeline is
// cut on shared frame boundaries at fps. Each boundary is off by less than one
// frame, and the error does not add up from segment to segment.
func (s Segment) Frames(fps int) int {
	n := int(frameAt(s.Start+s.Duration, fps) - frameAt(s.Start, fps))
	if n < 1 {
		n = 1
	}
	return n
}

// EncodedDuration is the segment length once cut to whole frames.
func (s Segment) EncodedDuration(fps int) time.Duration {
	return time.Duration(int64(s.Frames(fps)) * int64(time.Second) / int64(fps))
}

// frameAt is the index of the first frame at or after t.
func frameAt(t time.Duration, fps int) int64 {
	return (int64(t)*int64(fps) + int64(time.Second) - 1) / int64(time.Second)
}

// Plan is the complete, ordered render timeline handed to the encoder.
type Plan struct {
	Layout   Layout
	Segments []Segment
	Cues     []models.SubtitleCue
	Total    time.Duration
}

// BuildPlan lays out intro, scenes and outro. It is a pure function of its inputs.
func BuildPlan(topic string, artifacts []models.SceneArtifact, tl *models.Timeline, layout Layout) (*Plan, error) {
	if tl == nil || len(tl.Scenes) == 0 {
		return nil, fmt.Errorf("timeline has no scenes")
	}
	if len(artifacts) != len(tl.Scenes) {
		return nil, fmt.Errorf("have %d artifacts for %d timed scenes", len(artifacts), len(tl.Scenes))
	}
	if tl.Offset != layout.Intro.Duration {
		return nil, fmt.Errorf("timeline offset %v does not match intro duration %v", tl.Offset, layout.Intro.Duration)
	}

	plan := &Plan{Layout: layout, Cues: tl.Cues()}

	if layout.Intro.Duration > 0 {
		text := layout.Intro.Text
		if text == "" {
			text = topic
		}
		plan.Segments = append(plan.Segments, cardSegment(SegmentIntro, 0, layout.Intro, text, layout.Fade))
	}

	for i, st := range tl.Scenes {
		a := artifacts[i]
		if a.Index != st.Index {
			return nil, fmt.Errorf("artifact %d does not match timed scene %d", a.Index, st.Index)
		}
		if a.ImagePath == "" || a.AudioPath == "" {
			return nil, fmt.Errorf("scene %d is missing its image or narration", st.Index)
		}
		fade := clampFade(layout.Fade, st.Duration())
		plan.Segments = append(plan.Segments, Segment{
			Kind:      SegmentScene,
			Index:     st.Index,
			Start:     st.Start,
			Duration:  st.Duration(),
			FadeIn:    fade,
			FadeOut:   fade,
			ImagePath: a.ImagePath,
			AudioPath: a.AudioPath,
			Motion:    MotionFor(EffectForScene(st.Index, layout.Motion.Effects), layout.Motion.Zoom),
		})
	}

	end := tl.Scenes[len(tl.Scenes)-1].End
	if layout.Outro.Duration > 0 {
		plan.Segments = append(plan.Segments, cardSegment(SegmentOutro, end, layout.Outro, layout.Outro.Text, layout.Fade))
		end += layout.Outro.Duration
	}
	plan.Total = end

	return plan, nil
}

func cardSegment(kind SegmentKind, start time.Duration, card CardLayout, text string, fade time.Duration) Segment {
	fade = clampFade(fade, card.Duration)
	return Segment{
		Kind:       kind,
		Index:      -1,
		Start:      start,
		Duration:   card.Duration,
		FadeIn:     fade,
		FadeOut:    fade,
		Text:       text,
		Background: card.Background,
		Color:      card.Color,
		FontSize:   card.FontSize,
	}
}

// clampFade keeps fades within a third of the segment so in and out never meet.
func clampFade(fade, d time.Duration) time.Duration {
	if limit := d / 3; fade > limit {
		return limit
	}
	return fade
}
