package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
)

// defaultExcludedFilePatterns covers lockfiles, bundles, and build output
// that inflate diff sizes without representing reviewed work.
var defaultExcludedFilePatterns = []string{
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"Gemfile.lock",
	"Cargo.lock",
	"composer.lock",
	"poetry.lock",
	"Pipfile.lock",
	"*.min.js",
	"*.min.css",
	"*.bundle.js",
	"*.bundle.css",
	"dist/*",
	"build/*",
	"out/*",
	"target/*",
	".next/*",
	"coverage/*",
	"*.generated.*",
	"*.gen.*",
	"*-lock.json",
	"*.lock",
}

// lineCounts is the post-filter additions/deletions pair stored in the cache
// under a filtered_lines key.
type lineCounts struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// excludedFile reports whether a changed file matches any exclusion pattern,
// against either its full path or its base name.
func excludedFile(patterns []string, filename string) bool {
	base := path.Base(filename)
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, filename); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// filterLineCounts sums additions and deletions across files that survive
// the exclusion patterns.
func (a *Analyzer) filterLineCounts(files []*githubFile) lineCounts {
	var counts lineCounts
	excluded := 0
	for _, f := range files {
		if excludedFile(a.filePatterns, f.Filename) {
			excluded++
			a.logger.Debug("excluding generated file", "file", f.Filename,
				"additions", f.Additions, "deletions", f.Deletions)
			continue
		}
		counts.Additions += f.Additions
		counts.Deletions += f.Deletions
	}
	if excluded > 0 {
		a.logger.Info("excluded generated files", "count", excluded)
	}
	return counts
}

// filteredLineCounts fetches a PR's changed files and returns line counts
// with generated files removed. Results for closed PRs are cached under a
// per-PR key; open PRs are always refetched since their diff can still move.
// Returns nil when generated-file exclusion is disabled or the fetch fails.
func (a *Analyzer) filteredLineCounts(ctx context.Context, repo string, number int, closed bool) (*lineCounts, error) {
	if !a.excludeGeneratedFiles {
		return nil, nil
	}

	key := fmt.Sprintf("filtered_lines:%s:%d", repo, number)
	if closed {
		if raw, ok := a.cache.get(key); ok {
			var counts lineCounts
			if err := json.Unmarshal(raw, &counts); err == nil {
				a.logger.Debug("using cached filtered line counts", "pr", number)
				return &counts, nil
			}
		}
	}

	records, err := a.fetchPaged(ctx, fmt.Sprintf("/repos/%s/pulls/%d/files", repo, number), nil, false, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch files for PR #%d: %w", number, err)
	}
	files := decodeRecords[githubFile](a.logger, records, "file")
	counts := a.filterLineCounts(files)
	a.logger.Info("filtered line counts", "pr", number,
		"additions", counts.Additions, "deletions", counts.Deletions)

	if closed {
		if data, err := json.Marshal(counts); err == nil {
			a.cache.put(key, data)
		}
	}
	return &counts, nil
}

// prefetchFileCounts warms the filtered-line cache for closed PRs before the
// main analysis fan-out, so per-PR workers hit the cache instead of the API.
// Only quota exhaustion is returned; other failures are logged per task.
func (a *Analyzer) prefetchFileCounts(ctx context.Context, repo string, prs []*githubPullRequest) error {
	if !a.excludeGeneratedFiles {
		return nil
	}
	var closed []*githubPullRequest
	for _, pr := range prs {
		if pr.State != "open" {
			closed = append(closed, pr)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	a.logger.Info("prefetching file data for closed PRs", "count", len(closed))
	tasks := make([]func(context.Context) error, 0, len(closed))
	for _, pr := range closed {
		tasks = append(tasks, func(ctx context.Context) error {
			_, err := a.filteredLineCounts(ctx, repo, pr.Number, true)
			return err
		})
	}
	return runPool(ctx, a.logger, "prefetch", outerWorkerCap, tasks)
}
