package timing

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/fragment/internal/models"
)

// WriteSRT renders cues as a SubRip document.
func WriteSRT(w io.Writer, cues []models.SubtitleCue) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues {
		if _, err := fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRTTime(c.Start), FormatSRTTime(c.End), c.Text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteSRTFile writes the SRT document atomically to path.
func WriteSRTFile(path string, cues []models.SubtitleCue) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".srt-*")
	if err != nil {
		return fmt.Errorf("failed to create subtitle temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteSRT(tmp, cues); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write subtitles: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FormatSRTTime formats d as HH:MM:SS,mmm.
func FormatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3_600_000, (ms/60_000)%60, (ms/1000)%60, ms%1000)
}
