package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
)

const (
	// Upload timeout per attempt, generous for full-length videos
	uploadTimeout = 180 * time.Second

	// Retry configuration
	maxAttempts    = 5
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Mirror copies finished videos to a Supabase Storage bucket. It is optional:
// the local file stays the source of truth and a failed upload never fails a job.
type Mirror struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	policy     stage.RetryPolicy
}

func NewMirror(url, serviceKey, bucket string) *Mirror {
	return &Mirror{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: stage.RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   baseRetryDelay,
			MaxDelay:    maxRetryDelay,
			Multiplier:  2,
			Jitter:      0.25,
			Timeout:     uploadTimeout,
		},
	}
}

// WithRetryPolicy replaces the upload retry policy.
func (m *Mirror) WithRetryPolicy(p stage.RetryPolicy) *Mirror {
	m.policy = p
	return m
}

// Upload uploads data to the bucket with retries and exponential backoff.
// Uses PUT with Content-Length and x-upsert so re-uploading a job's video overwrites it.
func (m *Mirror) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", m.url, m.Bucket, objectPath)

	return m.policy.Do(ctx, models.StageComposing, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return stage.NewFatal(models.StageComposing, fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+m.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := m.client.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				log.Printf("[Storage] Upload of %s failed (retryable): %v", objectPath, err)
				return stage.NewTransient(models.StageComposing, err)
			}
			return stage.NewFatal(models.StageComposing, err)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}

		err = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[Storage] Upload of %s returned status %d (retryable)", objectPath, resp.StatusCode)
			return stage.NewTransient(models.StageComposing, err)
		}

		// Non-retryable status (400, 401, 403, 404, 413, etc.)
		return stage.NewFatal(models.StageComposing, err)
	})
}

// UploadFile uploads a file from a local path
func (m *Mirror) UploadFile(ctx context.Context, objectPath, localPath string, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	return m.Upload(ctx, objectPath, data, contentType)
}

// GetPublicURL returns the public URL for an object
func (m *Mirror) GetPublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", m.url, m.Bucket, objectPath)
}

// ObjectPath is the bucket key for a job's file.
func ObjectPath(jobID, filename string) string {
	return path.Join("videos", jobID, filename)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
