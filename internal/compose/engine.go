// Package compose turns a synchronized timeline and its scene assets into one
// encoded video file.
package compose

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/fragment/internal/models"
)

// Encoder is the video encoding collaborator.
type Encoder interface {
	// RenderSegment encodes one segment to outputPath. All segments of a plan
	// share codec parameters so they can be joined without re-encoding.
	RenderSegment(ctx context.Context, seg Segment, layout Layout, outputPath string) error
	Concat(ctx context.Context, parts []string, outputPath string) error
	BurnSubtitles(ctx context.Context, inputPath string, cues []models.SubtitleCue, layout Layout, outputPath string) error
}

// CompositionError reports an encoding failure. No output file exists when it is returned.
type CompositionError struct {
	Step string
	Err  error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed at %s: %v", e.Step, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

type Engine struct {
	encoder Encoder
}

func NewEngine(encoder Encoder) *Engine {
	return &Engine{encoder: encoder}
}

// Render encodes the plan to outputPath. Work happens in a sibling directory and the
// result is renamed into place only after every step succeeds.
func (e *Engine) Render(ctx context.Context, plan *Plan, outputPath string) error {
	if plan == nil || len(plan.Segments) == 0 {
		return &CompositionError{Step: "plan", Err: fmt.Errorf("nothing to render")}
	}

	dir := filepath.Dir(outputPath)
	base := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	workDir := filepath.Join(dir, ".work-"+base)
	partial := filepath.Join(dir, "."+base+".partial.mp4")

	if err := os.MkdirAll(workDir, 0755); err != nil {
		return &CompositionError{Step: "workdir", Err: err}
	}
	defer os.RemoveAll(workDir)

	committed := false
	defer func() {
		if !committed {
			os.Remove(partial)
		}
	}()

	parts := make([]string, 0, len(plan.Segments))
	for i, seg := range plan.Segments {
		part := filepath.Join(workDir, fmt.Sprintf("%02d_%s.mkv", i, seg.Name()))
		log.Printf("[Compose] Rendering %s (%v)", seg.Name(), seg.Duration)
		if err := e.encoder.RenderSegment(ctx, seg, plan.Layout, part); err != nil {
			return &CompositionError{Step: seg.Name(), Err: err}
		}
		parts = append(parts, part)
	}

	joined := filepath.Join(workDir, "joined.mp4")
	if err := e.encoder.Concat(ctx, parts, joined); err != nil {
		return &CompositionError{Step: "concat", Err: err}
	}

	if plan.Layout.Subtitles.Burn && len(plan.Cues) > 0 {
		if err := e.encoder.BurnSubtitles(ctx, joined, plan.Cues, plan.Layout, partial); err != nil {
			return &CompositionError{Step: "subtitles", Err: err}
		}
	} else if err := os.Rename(joined, partial); err != nil {
		return &CompositionError{Step: "finalize", Err: err}
	}

	info, err := os.Stat(partial)
	if err != nil {
		return &CompositionError{Step: "finalize", Err: err}
	}
	if info.Size() == 0 {
		return &CompositionError{Step: "finalize", Err: fmt.Errorf("encoder produced an empty file")}
	}

	if err := os.Rename(partial, outputPath); err != nil {
		return &CompositionError{Step: "finalize", Err: err}
	}
	committed = true

	log.Printf("[Compose] Wrote %s (%d bytes, %v)", outputPath, info.Size(), plan.Total)
	return nil
}
