// Package tally computes review-balance statistics for a GitHub user: how
// many lines of other people's pull requests the user reviewed, versus how
// many lines of the user's own pull requests others reviewed. It also builds
// a worklist of open PRs still waiting on the user's review.
package tally

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/codeGROOVE-dev/reviewtally/pkg/tally/github"
)

const (
	// HTTP client configuration constants. Sized with headroom above the
	// outer×inner worker product so fan-out never starves on connections.
	maxIdleConns        = 100
	maxIdleConnsPerHost = 50
	idleConnTimeoutSec  = 90
	requestTimeout      = 30 * time.Second
)

// Analyzer fetches pull request activity for a set of repositories and folds
// it into per-collaborator review statistics.
type Analyzer struct {
	github                *github.Client
	cache                 *responseCache
	logger                *slog.Logger
	stats                 *balanceAggregator
	username              string
	cachePath             string
	requiredLabel         string
	requiredProjectState  string
	excludedUsers         map[string]bool
	filePatterns          []string
	projectNumber         int
	cacheEnabled          bool
	excludeGeneratedFiles bool
	stateGuidanceOnce     sync.Once
}

// Option is a function that configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client. The client's transport is
// wrapped with retry logic if it is not already.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Analyzer) {
		if httpClient.Transport == nil {
			httpClient.Transport = &github.RetryTransport{Base: http.DefaultTransport}
		} else if _, ok := httpClient.Transport.(*github.RetryTransport); !ok {
			httpClient.Transport = &github.RetryTransport{Base: httpClient.Transport}
		}
		a.github.HTTPClient = httpClient
	}
}

// WithAPIBase points the analyzer at a different API base URL.
func WithAPIBase(baseURL string) Option {
	return func(a *Analyzer) {
		a.github.BaseURL = baseURL
	}
}

// WithCacheFile sets the cache file path.
func WithCacheFile(path string) Option {
	return func(a *Analyzer) {
		a.cachePath = path
	}
}

// WithNoCache disables response caching entirely.
func WithNoCache() Option {
	return func(a *Analyzer) {
		a.cacheEnabled = false
	}
}

// WithExcludedUsers excludes the given logins from all review accounting.
func WithExcludedUsers(users []string) Option {
	return func(a *Analyzer) {
		for _, u := range users {
			a.excludedUsers[u] = true
		}
	}
}

// WithRequiredLabel restricts analysis to PRs carrying the given label.
func WithRequiredLabel(label string) Option {
	return func(a *Analyzer) {
		a.requiredLabel = label
	}
}

// WithRequiredProjectState restricts analysis of open PRs to those whose
// project-board Status matches state. A non-zero projectNumber limits the
// check to that one project board.
func WithRequiredProjectState(state string, projectNumber int) Option {
	return func(a *Analyzer) {
		a.requiredProjectState = state
		a.projectNumber = projectNumber
	}
}

// WithExcludeGeneratedFiles enables generated-file exclusion when counting
// reviewed lines. An empty pattern list selects the default patterns.
func WithExcludeGeneratedFiles(patterns []string) Option {
	return func(a *Analyzer) {
		a.excludeGeneratedFiles = true
		if len(patterns) > 0 {
			a.filePatterns = patterns
		}
	}
}

// NewAnalyzer creates an Analyzer for the given user. Caching is enabled by
// default under the user cache directory; use WithNoCache to disable. If
// token is empty, requests go out unauthenticated (or use WithHTTPClient to
// supply your own authentication).
func NewAnalyzer(username, token string, opts ...Option) *Analyzer {
	base := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeoutSec * time.Second,
	}
	var transport http.RoundTripper = base
	if token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   base,
		}
	}

	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		userCacheDir = os.TempDir()
	}

	a := &Analyzer{
		github: &github.Client{
			HTTPClient: &http.Client{
				Transport: &github.RetryTransport{Base: transport},
				Timeout:   requestTimeout,
			},
		},
		logger:        slog.Default(),
		stats:         newBalanceAggregator(),
		username:      username,
		cachePath:     filepath.Join(userCacheDir, "reviewtally", "cache.json"),
		cacheEnabled:  true,
		excludedUsers: make(map[string]bool),
		filePatterns:  defaultExcludedFilePatterns,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cache = newResponseCache(a.cachePath, a.cacheEnabled, a.logger)
	return a
}

// SaveCache flushes the response cache to disk. A no-op when caching is
// disabled.
func (a *Analyzer) SaveCache() error {
	return a.cache.save()
}
