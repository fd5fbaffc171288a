package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/stage"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// classifyOpenAIError translates go-openai failures into the stage taxonomy.
func classifyOpenAIError(st models.Stage, err error) *stage.StageError {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Errorf("openai api error (status %d, type %s): %s", apiErr.HTTPStatusCode, apiErr.Type, apiErr.Message)
		// Exhausted quota also arrives as 429 but never clears on retry.
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return stage.NewFatal(st, msg)
		}
		return classifyStatus(st, apiErr.HTTPStatusCode, msg)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(st, reqErr.HTTPStatusCode, fmt.Errorf("openai request error: %w", err))
	}

	return classifyNetworkError(st, err)
}

// classifyGenAIError translates google genai failures into the stage taxonomy.
func classifyGenAIError(st models.Stage, err error) *stage.StageError {
	if err == nil {
		return nil
	}

	// The SDK returns APIError by value; accept a pointer too.
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErrPtr):
		apiErr = *apiErrPtr
	case errors.As(err, &apiErr):
	default:
		return classifyNetworkError(st, err)
	}

	msg := fmt.Errorf("genai api error (code %d, status %s): %s", apiErr.Code, apiErr.Status, apiErr.Message)
	if apiErr.Status == "RESOURCE_EXHAUSTED" && strings.Contains(strings.ToLower(apiErr.Message), "quota") {
		return stage.NewFatal(st, msg)
	}
	return classifyStatus(st, apiErr.Code, msg)
}

// classifyStatus maps an HTTP status to a failure kind. Rate limits, timeouts and
// server errors are transient; other client errors are fatal.
func classifyStatus(st models.Stage, status int, err error) *stage.StageError {
	if isRetryableStatus(status) || status >= 500 || status == 0 {
		return stage.NewTransient(st, err)
	}
	return stage.NewFatal(st, err)
}

// classifyNetworkError handles errors that never reached an HTTP status.
func classifyNetworkError(st models.Stage, err error) *stage.StageError {
	if errors.Is(err, context.Canceled) {
		return stage.NewFatal(st, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return stage.NewTransient(st, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return stage.NewTransient(st, err)
	}
	if isRetryableError(err) {
		return stage.NewTransient(st, err)
	}
	return stage.NewFatal(st, err)
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
