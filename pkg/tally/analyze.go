package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const daysPerMonth = 30

// Report is the full result of an analysis run, handed to the reporting
// layer verbatim.
type Report struct {
	ReviewedByMe     map[string]*ReviewStats `json:"reviewed_by_me"`
	ReviewedByOthers map[string]*ReviewStats `json:"reviewed_by_others"`
	OpenPRsByAuthor  map[string][]OpenPR     `json:"open_prs_by_author"`
	PRAuthors        []string                `json:"pr_authors"`
	MyOpenPRs        []OpenPR                `json:"my_open_prs"`
}

// Analyze runs the full analysis over the given repositories and lookback
// window. Months are approximated as 30-day blocks. Only quota exhaustion
// aborts the run; a failed repository is logged and the rest still
// contribute to the report.
func (a *Analyzer) Analyze(ctx context.Context, repos []string, months int) (*Report, error) {
	for _, repo := range repos {
		if err := a.AnalyzeRepository(ctx, repo, months); err != nil {
			if isQuotaError(err) {
				return nil, err
			}
			a.logger.Error("repository analysis failed", "repo", repo, "error", err)
		}
	}

	openPRs, myPRs, err := a.OpenPRsNeedingReview(ctx, repos)
	if err != nil {
		return nil, err
	}
	return &Report{
		ReviewedByMe:     a.stats.reviewedByMe,
		ReviewedByOthers: a.stats.reviewedByOthers,
		PRAuthors:        a.stats.authors(),
		OpenPRsByAuthor:  openPRs,
		MyOpenPRs:        myPRs,
	}, nil
}

// AnalyzeRepository analyzes one repository's PRs merged within the last
// months (open PRs are always analyzed) and folds the results into the
// shared statistics.
func (a *Analyzer) AnalyzeRepository(ctx context.Context, repo string, months int) error {
	since := time.Now().AddDate(0, 0, -months*daysPerMonth)
	a.logger.Info("analyzing repository", "repo", repo, "since", since.Format("2006-01-02"))

	prs, err := a.listPullRequests(ctx, repo)
	if err != nil {
		return err
	}

	projectStates := map[int][]string{}
	if a.requiredProjectState != "" {
		var openNums []int
		for _, pr := range prs {
			if pr.State == "open" {
				openNums = append(openNums, pr.Number)
			}
		}
		if projectStates, err = a.fetchProjectStates(ctx, repo, openNums); err != nil {
			return err
		}
		a.logger.Info("fetched project states", "repo", repo, "prs", len(projectStates))
	}

	eligible := a.selectPullRequests(prs, since, projectStates)
	a.logger.Info("selected pull requests", "repo", repo,
		"eligible", len(eligible), "fetched", len(prs))
	if len(eligible) == 0 {
		return nil
	}

	if err := a.prefetchFileCounts(ctx, repo, eligible); err != nil {
		return err
	}

	tasks := make([]func(context.Context) error, 0, len(eligible))
	for _, pr := range eligible {
		tasks = append(tasks, func(ctx context.Context) error {
			return a.analyzePR(ctx, repo, pr)
		})
	}
	if err := runPool(ctx, a.logger, "analyze "+repo, outerWorkerCap, tasks); err != nil {
		return err
	}
	a.logger.Info("completed repository analysis", "repo", repo)
	return nil
}

// listPullRequests fetches both open and closed PRs, sorted by last update.
// The closed list is cache-backed; the open list is always fetched fresh.
func (a *Analyzer) listPullRequests(ctx context.Context, repo string) ([]*githubPullRequest, error) {
	path := fmt.Sprintf("/repos/%s/pulls", repo)
	var all []*githubPullRequest
	for _, state := range []string{"open", "closed"} {
		pages := 0
		countPages := func([]json.RawMessage) bool {
			pages++
			return true
		}
		records, err := a.fetchPaged(ctx, path, map[string]string{
			"state":     state,
			"sort":      "updated",
			"direction": "desc",
		}, state == "closed", countPages)
		if err != nil {
			return nil, fmt.Errorf("listing %s PRs for %s: %w", state, repo, err)
		}
		a.logger.Info("fetched pull requests", "repo", repo, "state", state,
			"count", len(records), "pages", pages)
		all = append(all, decodeRecords[githubPullRequest](a.logger, records, "pull request")...)
	}
	return all, nil
}

// analyzePR fetches one PR's detail, reviews, and comments concurrently and
// records the resulting review activity.
func (a *Analyzer) analyzePR(ctx context.Context, repo string, pr *githubPullRequest) error {
	author := pr.author()
	if a.excludedUsers[author] {
		a.logger.Debug("skipping PR by excluded user", "pr", pr.Number, "author", author)
		return nil
	}

	closed := pr.State != "open"
	detail, reviews, comments, err := a.fetchPRData(ctx, repo, pr, closed)
	if err != nil {
		return err
	}
	additions, deletions := detail.Additions, detail.Deletions

	if a.excludeGeneratedFiles {
		counts, err := a.filteredLineCounts(ctx, repo, pr.Number, closed)
		switch {
		case err != nil && isQuotaError(err):
			return err
		case err != nil:
			a.logger.Warn("keeping unfiltered line counts", "pr", pr.Number, "error", err)
		case counts != nil:
			additions, deletions = counts.Additions, counts.Deletions
		}
	}

	a.logger.Debug("analyzing PR", "pr", pr.Number, "author", author,
		"additions", additions, "deletions", deletions, "state", pr.State)

	activity := a.trackReviewerActivity(reviews, comments, author)
	var myReviewEvents, myComments int
	for _, r := range reviews {
		if r.reviewer() == a.username {
			myReviewEvents++
		}
	}
	for _, c := range comments {
		if c.commenter() == a.username {
			myComments++
		}
	}

	recorded := *pr
	recorded.Additions = additions
	recorded.Deletions = deletions
	a.stats.record(a.username, &recorded, activity, myReviewEvents, myComments)
	return nil
}

// fetchPRData fetches a PR's fresh detail plus its reviews and comments on a
// small inner pool. Detail fetches never hit the cache; reviews and comments
// are cached only for closed PRs. A failed detail fetch falls back to the
// list-payload counts.
func (a *Analyzer) fetchPRData(
	ctx context.Context, repo string, pr *githubPullRequest, closed bool,
) (detail *githubPullRequest, reviews []*githubReview, comments []*githubReviewComment, err error) {
	base := fmt.Sprintf("/repos/%s/pulls/%d", repo, pr.Number)
	detail = pr

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			var fresh githubPullRequest
			if err := a.github.Get(ctx, base, &fresh); err != nil {
				return fmt.Errorf("fetching detail for PR #%d: %w", pr.Number, err)
			}
			detail = &fresh
			return nil
		},
		func(ctx context.Context) error {
			records, err := a.fetchPaged(ctx, base+"/reviews", nil, closed, nil)
			if err != nil {
				return fmt.Errorf("fetching reviews for PR #%d: %w", pr.Number, err)
			}
			reviews = decodeRecords[githubReview](a.logger, records, "review")
			return nil
		},
		func(ctx context.Context) error {
			records, err := a.fetchPaged(ctx, base+"/comments", nil, closed, nil)
			if err != nil {
				return fmt.Errorf("fetching comments for PR #%d: %w", pr.Number, err)
			}
			comments = decodeRecords[githubReviewComment](a.logger, records, "comment")
			return nil
		},
	}
	if err := runPool(ctx, a.logger, fmt.Sprintf("PR #%d", pr.Number), innerWorkerCap, tasks); err != nil {
		return nil, nil, nil, err
	}
	return detail, reviews, comments, nil
}

// trackReviewerActivity counts review events and comments per reviewer,
// excluding the analyzed user, the PR author, and globally excluded users.
func (a *Analyzer) trackReviewerActivity(
	reviews []*githubReview, comments []*githubReviewComment, prAuthor string,
) map[string]*reviewerActivity {
	activity := make(map[string]*reviewerActivity)
	get := func(user string) *reviewerActivity {
		if act, ok := activity[user]; ok {
			return act
		}
		act := &reviewerActivity{}
		activity[user] = act
		return act
	}

	for _, r := range reviews {
		reviewer := r.reviewer()
		if reviewer == "" || reviewer == a.username || reviewer == prAuthor || a.excludedUsers[reviewer] {
			continue
		}
		get(reviewer).reviewEvents++
	}
	for _, c := range comments {
		commenter := c.commenter()
		if commenter == "" || commenter == a.username || commenter == prAuthor || a.excludedUsers[commenter] {
			continue
		}
		get(commenter).comments++
	}
	return activity
}
