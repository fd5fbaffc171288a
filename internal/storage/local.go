package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// ErrOutsideRoot is returned when a requested path escapes the output directory.
var ErrOutsideRoot = errors.New("path outside output directory")

const maxSlugLength = 30

// Local lays out job artifacts under one output directory:
//
//	<root>/<job id>/scene_000.png
//	<root>/<job id>/scene_000.mp3
//	<root>/<job id>/subtitles.srt
//	<root>/<job id>/<display name>.mp4
type Local struct {
	root       string
	publicBase string
}

// NewLocal creates the layout. publicBase is the URL prefix the root is served under.
func NewLocal(root, publicBase string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Local{root: abs, publicBase: "/" + strings.Trim(publicBase, "/")}, nil
}

func (l *Local) Root() string { return l.root }

// JobDir is the directory holding every artifact of a job.
func (l *Local) JobDir(jobID string) string {
	return filepath.Join(l.root, jobID)
}

// EnsureJobDir creates the job directory if needed and returns it.
func (l *Local) EnsureJobDir(jobID string) (string, error) {
	dir := l.JobDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}
	return dir, nil
}

// ScenePath names a per-scene artifact. ext includes no dot; empty ext returns a base path.
func (l *Local) ScenePath(jobID string, index int, ext string) string {
	name := fmt.Sprintf("scene_%03d", index)
	if ext != "" {
		name += "." + ext
	}
	return filepath.Join(l.JobDir(jobID), name)
}

// Resolve maps a path relative to the root to an absolute one, rejecting escapes.
func (l *Local) Resolve(rel string) (string, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(rel))
	r, err := filepath.Rel(l.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// PublicURL is the served URL of a file under the root.
func (l *Local) PublicURL(path string) (string, error) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	if l.publicBase == "/" {
		return "/" + filepath.ToSlash(rel), nil
	}
	return l.publicBase + "/" + filepath.ToSlash(rel), nil
}

// WriteFileAtomic writes data to a temp file in the target directory and renames it
// into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Slugify replaces every non-alphanumeric character with an underscore and caps the length.
func Slugify(topic string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(topic) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	slug := []rune(b.String())
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	if len(slug) == 0 {
		return "video"
	}
	return string(slug)
}

// DisplayName is the user-facing file name of a finished video.
func DisplayName(topic string, at time.Time) string {
	return fmt.Sprintf("%s_%d.mp4", Slugify(topic), at.Unix())
}
