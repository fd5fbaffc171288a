// Package timing lays scenes and subtitle cues onto a single timeline using the
// measured narration durations.
package timing

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bobarin/fragment/internal/models"
)

const (
	DefaultMinSceneDuration = 2 * time.Second
	DefaultMaxWordsPerCue   = 10
)

// Options tune the synchronizer. Zero values fall back to the defaults.
type Options struct {
	// Offset is where the first scene starts, usually the intro length.
	Offset time.Duration
	// MinSceneDuration replaces zero or unmeasurable scene durations.
	MinSceneDuration time.Duration
	// MaxWordsPerCue bounds the words shown on one subtitle line.
	MaxWordsPerCue int
}

func (o Options) withDefaults() Options {
	if o.MinSceneDuration <= 0 {
		o.MinSceneDuration = DefaultMinSceneDuration
	}
	if o.MaxWordsPerCue <= 0 {
		o.MaxWordsPerCue = DefaultMaxWordsPerCue
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Synchronize builds the timeline. Each scene starts where the previous one ended;
// durations come from the artifacts, never from the plan's hints.
// Artifacts must be complete and in scene order.
func Synchronize(plan *models.ScenePlan, artifacts []models.SceneArtifact, opts Options) (*models.Timeline, error) {
	if plan == nil || len(plan.Scenes) == 0 {
		return nil, fmt.Errorf("plan has no scenes")
	}
	if len(artifacts) != len(plan.Scenes) {
		return nil, fmt.Errorf("have %d artifacts for %d scenes", len(artifacts), len(plan.Scenes))
	}
	opts = opts.withDefaults()

	tl := &models.Timeline{
		Offset: opts.Offset,
		Scenes: make([]models.SceneTiming, 0, len(plan.Scenes)),
	}

	cursor := opts.Offset
	cueIndex := 0
	for i, scene := range plan.Scenes {
		if artifacts[i].Index != i {
			return nil, fmt.Errorf("artifact at position %d belongs to scene %d", i, artifacts[i].Index)
		}

		d := artifacts[i].Duration
		floored := false
		if d <= 0 {
			d = opts.MinSceneDuration
			floored = true
		}

		st := models.SceneTiming{
			Index:   i,
			Start:   cursor,
			End:     cursor + d,
			Floored: floored,
		}
		for _, c := range SplitCues(scene.Narration, st.Start, st.End, opts.MaxWordsPerCue) {
			c.Index = cueIndex
			c.Scene = i
			cueIndex++
			st.Cues = append(st.Cues, c)
		}

		tl.Scenes = append(tl.Scenes, st)
		tl.Narrated += d
		cursor = st.End
	}

	return tl, nil
}

// SplitCues spreads narration over [start, end]. Words are grouped into the fewest
// chunks of at most maxWords, sized within one word of each other. Each chunk gets a
// share of the span proportional to its non-space character count; boundaries are
// cumulative floors so the last cue ends exactly at end.
func SplitCues(narration string, start, end time.Duration, maxWords int) []models.SubtitleCue {
	chunks := chunkWords(strings.Fields(narration), maxWords)
	if len(chunks) == 0 || end <= start {
		return nil
	}

	weights := make([]int64, len(chunks))
	var total int64
	for i, c := range chunks {
		weights[i] = charWeight(c)
		total += weights[i]
	}

	span := int64(end - start)
	cues := make([]models.SubtitleCue, len(chunks))
	var cumulative int64
	prev := start
	for i, c := range chunks {
		cumulative += weights[i]
		boundary := start + time.Duration(span*cumulative/total)
		if i == len(chunks)-1 {
			boundary = end
		}
		cues[i] = models.SubtitleCue{
			Text:  strings.Join(c, " "),
			Start: prev,
			End:   boundary,
		}
		prev = boundary
	}
	return cues
}

// chunkWords splits words into ceil(n/maxWords) groups; the first n%groups groups
// carry the extra word.
func chunkWords(words []string, maxWords int) [][]string {
	if len(words) == 0 {
		return nil
	}
	if maxWords <= 0 {
		maxWords = DefaultMaxWordsPerCue
	}
	groups := (len(words) + maxWords - 1) / maxWords
	base, rem := len(words)/groups, len(words)%groups

	chunks := make([][]string, 0, groups)
	pos := 0
	for g := 0; g < groups; g++ {
		size := base
		if g < rem {
			size++
		}
		chunks = append(chunks, words[pos:pos+size])
		pos += size
	}
	return chunks
}

func charWeight(words []string) int64 {
	var n int64
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}
