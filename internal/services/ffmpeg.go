package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/fragment/internal/compose"
	"github.com/bobarin/fragment/internal/models"
)

// Segments carry PCM audio at one sample rate; AAC is encoded once when they are joined.
const (
	audioSampleRate = 44100
	audioBitrate    = "192k"

	// Scene images are upscaled to twice the output size before zoompan so the
	// tightest window still has enough pixels.
	motionHeadroom = 2

	cardLineWidth = 32 // characters per line on intro/outro cards
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

// FFmpegService is the encoding collaborator: it renders segments, joins them,
// burns subtitles and measures media durations.
type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
}

var (
	_ compose.Encoder = (*FFmpegService)(nil)
	_ DurationProber  = (*FFmpegService)(nil)
)

func NewFFmpegService(ffmpegPath, ffprobePath string) *FFmpegService {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegService{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// RenderSegment encodes one intro, scene or outro segment.
func (s *FFmpegService) RenderSegment(ctx context.Context, seg compose.Segment, layout compose.Layout, outputPath string) error {
	switch seg.Kind {
	case compose.SegmentScene:
		return s.renderScene(ctx, seg, layout, outputPath)
	case compose.SegmentIntro, compose.SegmentOutro:
		return s.renderCard(ctx, seg, layout, outputPath)
	default:
		return fmt.Errorf("unknown segment kind %q", seg.Kind)
	}
}

// renderScene creates a clip from a still image and its narration, applying the
// segment's pan/zoom motion and fades. The audio is padded or trimmed to the
// segment length so floored scenes keep their full duration.
func (s *FFmpegService) renderScene(ctx context.Context, seg compose.Segment, layout compose.Layout, outputPath string) error {
	frames := seg.Frames(layout.FPS)
	dur := formatSeconds(seg.EncodedDuration(layout.FPS))

	video := buildMotionFilter(seg.Motion, frames, layout) + fadeFilter("fade", seg) + ",format=yuv420p"
	audio := fmt.Sprintf("aresample=%d,apad,atrim=end=%s,asetpts=N/SR/TB", audioSampleRate, dur)
	filter := fmt.Sprintf("[0:v]%s[v];[1:a]%s[a]", video, audio)

	log.Printf("[FFmpeg] Rendering %s (effect=%s, duration=%ss, frames=%d)", seg.Name(), seg.Motion.Effect, dur, frames)

	args := []string{
		"-y",
		"-i", seg.ImagePath, // single image; zoompan produces every frame
		"-i", seg.AudioPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", dur,
	}
	args = append(args, segmentArgs(layout)...)
	args = append(args, outputPath)

	return s.run(ctx, "render "+seg.Name(), args...)
}

// renderCard renders a text card over a background image or solid color, with silent audio.
func (s *FFmpegService) renderCard(ctx context.Context, seg compose.Segment, layout compose.Layout, outputPath string) error {
	dur := formatSeconds(seg.EncodedDuration(layout.FPS))

	// drawtext reads the text from a file to avoid filter escaping of user input
	textPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".txt"
	if err := os.WriteFile(textPath, []byte(wrapText(seg.Text, cardLineWidth)), 0644); err != nil {
		return fmt.Errorf("failed to write card text: %w", err)
	}
	defer os.Remove(textPath)

	var args []string
	if seg.Background != "" && fileExists(seg.Background) {
		args = append(args, "-loop", "1", "-framerate", strconv.Itoa(layout.FPS), "-t", dur, "-i", seg.Background)
	} else {
		color := seg.Color
		if color == "" {
			color = "black"
		}
		args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s", color, layout.Width, layout.Height, layout.FPS, dur))
	}
	args = append(args, "-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", audioSampleRate))

	filter := "[0:v]" + buildCardFilter(seg, layout, textPath) + "[v]"

	log.Printf("[FFmpeg] Rendering %s card (duration=%ss)", seg.Kind, dur)

	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "1:a",
		"-t", dur,
	)
	args = append(args, segmentArgs(layout)...)
	args = append(args, outputPath)

	return s.run(ctx, "render "+seg.Name(), args...)
}

// Concat joins segments with the concat demuxer. Video is copied; the PCM audio
// is encoded to AAC here, in one pass, so no per-segment AAC padding accumulates.
func (s *FFmpegService) Concat(ctx context.Context, parts []string, outputPath string) error {
	if len(parts) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	listPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + "_concat.txt"
	var list strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	return s.run(ctx, "concat",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "2",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	)
}

// BurnSubtitles renders cues to an ASS file beside the input and burns them in.
func (s *FFmpegService) BurnSubtitles(ctx context.Context, inputPath string, cues []models.SubtitleCue, layout compose.Layout, outputPath string) error {
	assPath := filepath.Join(filepath.Dir(inputPath), "subtitles.ass")
	if err := GenerateASSSubtitles(cues, assPath, SubtitleStyleFromLayout(layout)); err != nil {
		return err
	}
	defer os.Remove(assPath)

	log.Printf("[FFmpeg] Burning in %d subtitle cues", len(cues))

	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("ass='%s'", escapeFFmpegFilterPath(assPath)),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-map_metadata", "-1",
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	}
	return s.run(ctx, "burn subtitles", args...)
}

// ProbeDuration returns the decoded duration of a media file via ffprobe.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(string(output))
}

func parseProbeDuration(output string) (time.Duration, error) {
	raw := strings.TrimSpace(output)
	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", raw, err)
	}
	if sec <= 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(math.Round(sec * float64(time.Second))), nil
}

func (s *FFmpegService) run(ctx context.Context, label string, args ...string) error {
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s failed: %w\n%s", label, err, tail(string(out), 2000))
	}
	return nil
}

// segmentArgs are shared by every segment so the concat demuxer can copy video.
// Audio stays PCM in a Matroska container, which keeps each segment's audio
// exactly as long as its video. Bitexact flags keep encoder version strings and
// timestamps out of the file.
func segmentArgs(layout compose.Layout) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(layout.FPS),
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "2",
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-map_metadata", "-1",
		"-f", "matroska",
	}
}

// buildMotionFilter upscales the image and drives zoompan from the motion's start
// window to its end window. p runs linearly from 0 on the first frame to 1 on the last.
//
// zoompan shows iw/zoom pixels horizontally, so a window of width W (as a fraction
// of the image) is zoom = 1/W, with its top-left corner at (X*iw, Y*ih).
func buildMotionFilter(m compose.Motion, frames int, layout compose.Layout) string {
	span := frames - 1
	if span < 1 {
		span = 1
	}
	p := fmt.Sprintf("min(on/%d,1)", span)

	lerp := func(a, b float64) string {
		return fmt.Sprintf("(%.6f+%.6f*%s)", a, b-a, p)
	}

	zExpr := "1/" + lerp(m.From.W, m.To.W)
	xExpr := "iw*" + lerp(m.From.X, m.To.X)
	yExpr := "ih*" + lerp(m.From.Y, m.To.Y)

	w, h := layout.Width*motionHeadroom, layout.Height*motionHeadroom
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,"+
			"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		w, h, w, h,
		zExpr, xExpr, yExpr,
		frames,
		layout.Width, layout.Height,
		layout.FPS,
	)
}

func buildCardFilter(seg compose.Segment, layout compose.Layout, textPath string) string {
	fontSize := seg.FontSize
	if fontSize <= 0 {
		fontSize = 64
	}

	draw := fmt.Sprintf("drawtext=textfile='%s':fontcolor=white:fontsize=%d:line_spacing=12:borderw=3:bordercolor=black@0.6:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeFFmpegFilterPath(textPath), fontSize)
	if layout.FontFile != "" {
		draw += fmt.Sprintf(":fontfile='%s'", escapeFFmpegFilterPath(layout.FontFile))
	}

	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,fps=%d,%s%s,format=yuv420p",
		layout.Width, layout.Height, layout.Width, layout.Height, layout.FPS, draw, fadeFilter("fade", seg))
}

// fadeFilter returns the fade in/out chain for a segment, empty when it has no fades.
func fadeFilter(name string, seg compose.Segment) string {
	var b strings.Builder
	if seg.FadeIn > 0 {
		fmt.Fprintf(&b, ",%s=t=in:st=0:d=%s", name, formatSeconds(seg.FadeIn))
	}
	if seg.FadeOut > 0 {
		fmt.Fprintf(&b, ",%s=t=out:st=%s:d=%s", name, formatSeconds(seg.Duration-seg.FadeOut), formatSeconds(seg.FadeOut))
	}
	return b.String()
}

// escapeFFmpegFilterPath escapes special characters in file paths for FFmpeg filter syntax.
func escapeFFmpegFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// wrapText breaks text on spaces into lines of at most width characters.
func wrapText(text string, width int) string {
	words := strings.Fields(text)
	var lines []string
	var line string
	for _, w := range words {
		switch {
		case line == "":
			line = w
		case len([]rune(line))+1+len([]rune(w)) <= width:
			line += " " + w
		default:
			lines = append(lines, line)
			line = w
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
