package github

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// retryAttempts is the maximum number of attempts per request.
	retryAttempts = 4
	// retryDelay is the fixed delay between attempts.
	retryDelay = 500 * time.Millisecond
	// maxRequestSize limits request body buffering for replay across attempts.
	maxRequestSize = 1 * 1024 * 1024 // 1MB
)

// RetryTransport wraps an http.RoundTripper with bounded fixed-backoff
// retries. Only transport-level failures and 5xx responses are retried;
// quota exhaustion (403 with a drained rate limit, 429) is surfaced
// untouched because it is fatal to the whole analysis.
type RetryTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface with retry logic.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Base == nil {
		t.Base = http.DefaultTransport
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
		if err != nil {
			return nil, err
		}
		if closeErr := req.Body.Close(); closeErr != nil {
			slog.DebugContext(req.Context(), "failed to close request body", "error", closeErr, "url", req.URL.String())
		}
	}

	var resp *http.Response
	var lastErr error

	err := retry.Do(
		func() error { //nolint:contextcheck // Context is accessed via closure from req.Context()
			// Reset the body for each retry attempt
			if bodyBytes != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}

			var err error
			start := time.Now()
			resp, err = t.Base.RoundTrip(req) //nolint:bodyclose // Response body is handled by caller in successful cases
			elapsed := time.Since(start)
			if err != nil {
				slog.WarnContext(req.Context(), "HTTP request failed",
					"url", req.URL.String(),
					"error", err,
					"elapsed", elapsed)
				lastErr = err
				return err
			}

			if resp.StatusCode >= 500 && resp.StatusCode < 600 {
				if closeErr := resp.Body.Close(); closeErr != nil {
					slog.DebugContext(req.Context(), "failed to close response body for retry", "error", closeErr)
				}
				slog.InfoContext(req.Context(), "HTTP request will be retried",
					"status", resp.StatusCode,
					"url", req.URL.String())
				lastErr = &retryableError{StatusCode: resp.StatusCode}
				return lastErr
			}

			return nil
		},
		retry.Context(req.Context()),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			var retryErr *retryableError
			if errors.As(err, &retryErr) {
				return true
			}
			// Connection-level failures have no response to leak; retry them too.
			return resp == nil
		}),
	)
	if err != nil {
		// RoundTrip must not return both a response and an error; the
		// last 5xx response's body is already closed anyway.
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}

	return resp, nil
}

// retryableError indicates a response that should be retried.
type retryableError struct {
	StatusCode int
}

func (e *retryableError) Error() string {
	return http.StatusText(e.StatusCode)
}
