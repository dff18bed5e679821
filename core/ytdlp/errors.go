package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"VKMBot/core/plugin"
)

type stderrError struct {
	err    error
	stderr string
}

func (e *stderrError) Error() string {
	if line := lastLine(e.stderr); line != "" {
		return fmt.Sprintf("%v: %s", e.err, line)
	}
	return e.err.Error()
}

func (e *stderrError) Unwrap() error { return e.err }

func withStderr(err error, stderr string) error {
	if err == nil {
		return nil
	}
	return &stderrError{err: err, stderr: stderr}
}

var (
	notFoundMarkers = []string{
		"video unavailable",
		"not available",
		"private video",
		"has been removed",
		"no video formats found",
		"unsupported url",
		"http error 404",
		"this video has been terminated",
	}
	rateLimitMarkers = []string{
		"http error 429",
		"too many requests",
		"rate-limit",
		"rate limit",
	}
	localIOMarkers = []string{
		"unable to write",
		"no space left",
		"permission denied",
		"read-only file system",
		"disk quota exceeded",
	}
	timeoutMarkers = []string{
		"timed out",
		"timeout",
		"connection reset",
		"deadline",
	}
)

// classify maps a failed yt-dlp run onto the plugin error classes.
func classify(ctx context.Context, stderr string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", plugin.ErrTimeout, ctxErr)
		}
		return ctxErr
	}

	detail := lastLine(stderr)
	if detail == "" {
		detail = err.Error()
	}
	if strings.Contains(err.Error(), "executable file not found") {
		return fmt.Errorf("%w: %s", plugin.ErrProviderUnavailable, detail)
	}

	msg := strings.ToLower(stderr + "\n" + err.Error())
	switch {
	case containsAny(msg, notFoundMarkers):
		return fmt.Errorf("%w: %s", plugin.ErrNotFound, detail)
	case containsAny(msg, localIOMarkers):
		return fmt.Errorf("%w: %s", plugin.ErrLocalIO, detail)
	case containsAny(msg, rateLimitMarkers):
		return fmt.Errorf("%w: %s", plugin.ErrRateLimited, detail)
	case containsAny(msg, timeoutMarkers):
		return fmt.Errorf("%w: %s", plugin.ErrTimeout, detail)
	default:
		return fmt.Errorf("%w: %s", plugin.ErrExtraction, detail)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// lastLine returns the last ERROR line of stderr, or its last non-empty line.
func lastLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
