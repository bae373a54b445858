// Package github provides a low-level client for the GitHub REST and GraphQL APIs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// API is the default GitHub API base URL.
	API = "https://api.github.com"
	// maxResponseSize limits API response size to prevent memory exhaustion.
	maxResponseSize = 10 * 1024 * 1024 // 10MB
	// maxErrorBodySize limits error response body reading for debugging.
	maxErrorBodySize = 1024
	// tokenPreviewPrefixLen is the number of characters to show at the start of a masked token.
	tokenPreviewPrefixLen = 4
	// tokenPreviewSuffixLen is the number of characters to show at the end of a masked token.
	tokenPreviewSuffixLen = 4
	// tokenPreviewMinLen is the minimum token length to show a preview.
	tokenPreviewMinLen = 8
)

// Error represents an error response from the GitHub API.
type Error struct {
	Status     string
	Body       string
	URL        string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("github API error: %s", e.Status)
}

// QuotaError indicates the API rate quota is exhausted. It is fatal: there
// is no recovery path, the whole analysis aborts and the process exits
// non-zero.
type QuotaError struct {
	URL        string
	StatusCode int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("github API quota exhausted (HTTP %d): %s", e.StatusCode, e.URL)
}

// Client is a low-level client for interacting with the GitHub API.
type Client struct {
	HTTPClient *http.Client
	Token      string
	BaseURL    string
}

// quotaExhausted reports whether a response means the rate quota is gone.
// GitHub signals this as 429, or as 403 with X-RateLimit-Remaining at zero.
func quotaExhausted(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-Ratelimit-Remaining") == "0"
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) > tokenPreviewMinLen {
		return token[:tokenPreviewPrefixLen] + "..." + token[len(token)-tokenPreviewSuffixLen:]
	}
	return "***"
}

// Do performs an HTTP GET request to the GitHub API. The path may include a
// query string; the caller is responsible for encoding it.
func (c *Client) Do(ctx context.Context, path string) ([]byte, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = API
	}
	apiURL := baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	// The Analyzer authenticates at the transport layer; the Token field
	// covers direct use of this client.
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	slog.DebugContext(ctx, "GitHub API request starting",
		"method", "GET",
		"url", apiURL,
		"token", maskToken(c.Token))

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		slog.ErrorContext(ctx, "GitHub API request failed", "url", apiURL, "error", err, "elapsed", elapsed)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.DebugContext(ctx, "failed to close response body", "error", closeErr, "url", apiURL)
		}
	}()

	slog.DebugContext(ctx, "GitHub API response received",
		"status", resp.Status,
		"url", apiURL,
		"elapsed", elapsed,
		"rate_remaining", resp.Header.Get("X-Ratelimit-Remaining"))

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(ctx, resp, apiURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// responseError turns a non-200 response into a typed error, consuming a
// bounded prefix of the body for diagnostics.
func (c *Client) responseError(ctx context.Context, resp *http.Response, apiURL string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if readErr != nil {
		body = []byte("failed to read response body")
	}

	if quotaExhausted(resp) {
		slog.ErrorContext(ctx, "GitHub API quota exhausted",
			"status", resp.Status,
			"url", apiURL,
			"rate_reset", resp.Header.Get("X-Ratelimit-Reset"),
			"body", string(body))
		return &QuotaError{StatusCode: resp.StatusCode, URL: apiURL}
	}

	slog.ErrorContext(ctx, "GitHub API error",
		"status", resp.Status,
		"status_code", resp.StatusCode,
		"url", apiURL,
		"body", string(body))
	return &Error{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
		URL:        apiURL,
	}
}

// Get makes a GET request to the GitHub API and decodes the response into v.
func (c *Client) Get(ctx context.Context, path string, v any) error {
	data, err := c.Do(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", path, err)
	}
	return nil
}

// GraphQL executes a GraphQL query against the GitHub API.
// The query and variables are sent as JSON, and the response is decoded into result.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any, result any) error {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = API
	}
	apiURL := baseURL + "/graphql"

	requestBody := map[string]any{
		"query": query,
	}
	if len(variables) > 0 {
		requestBody["variables"] = variables
	}
	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("marshaling GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating GraphQL request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github.v4+json")

	slog.DebugContext(ctx, "GitHub GraphQL request starting", "url", apiURL)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		slog.ErrorContext(ctx, "GitHub GraphQL request failed", "url", apiURL, "error", err, "elapsed", elapsed)
		return fmt.Errorf("executing GraphQL request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.DebugContext(ctx, "failed to close response body", "error", closeErr, "url", apiURL)
		}
	}()

	slog.DebugContext(ctx, "GitHub GraphQL response received", "status", resp.Status, "url", apiURL, "elapsed", elapsed)

	if resp.StatusCode != http.StatusOK {
		return c.responseError(ctx, resp, apiURL)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors GraphQLErrors   `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("GraphQL query failed: %s", envelope.Errors.Join())
	}
	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decoding GraphQL data: %w", err)
		}
	}
	return nil
}

// GraphQLErrors is the error list every GraphQL response may carry.
type GraphQLErrors []struct {
	Message string `json:"message"`
}

// Join flattens the error messages into one string.
func (e GraphQLErrors) Join() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return strings.Join(msgs, "; ")
}
