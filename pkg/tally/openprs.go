package tally

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// OpenPR is one open-PR worklist entry.
type OpenPR struct {
	Title                 string    `json:"title"`
	URL                   string    `json:"url"`
	Repo                  string    `json:"repo"`
	Labels                []string  `json:"labels"`
	RequestedReviewers    []string  `json:"requested_reviewers,omitempty"`
	ProjectStates         []string  `json:"project_states,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
	Number                int       `json:"number"`
	Additions             int       `json:"additions"`
	Deletions             int       `json:"deletions"`
	ReviewCount           int       `json:"review_count"`
	MyPreviousReviewCount int       `json:"my_previous_review_count,omitempty"`
	RequestedMyReview     bool      `json:"requested_my_review"`
	ChangesRequested      bool      `json:"changes_requested"`
	MyReviewDismissed     bool      `json:"my_review_dismissed,omitempty"`
}

// OpenPRsNeedingReview walks the repositories' open PRs and returns, grouped
// by author, the ones still waiting on the analyzed user's review, along
// with the user's own open PRs. A PR the user already reviewed is skipped,
// unless the user's latest review was dismissed, which puts it back on the
// worklist. Nothing here touches the response cache: open PRs move.
func (a *Analyzer) OpenPRsNeedingReview(ctx context.Context, repos []string) (map[string][]OpenPR, []OpenPR, error) {
	byAuthor := make(map[string][]OpenPR)
	var mine []OpenPR
	var mu sync.Mutex

	for _, repo := range repos {
		a.logger.Info("fetching open pull requests", "repo", repo)
		records, err := a.fetchPaged(ctx, fmt.Sprintf("/repos/%s/pulls", repo), map[string]string{
			"state":     "open",
			"sort":      "updated",
			"direction": "desc",
		}, false, nil)
		if err != nil {
			if isQuotaError(err) {
				return nil, nil, err
			}
			a.logger.Error("failed to list open PRs", "repo", repo, "error", err)
			continue
		}
		open := decodeRecords[githubPullRequest](a.logger, records, "pull request")

		projectStates := map[int][]string{}
		if a.requiredProjectState != "" && len(open) > 0 {
			nums := make([]int, 0, len(open))
			for _, pr := range open {
				nums = append(nums, pr.Number)
			}
			if projectStates, err = a.fetchProjectStates(ctx, repo, nums); err != nil {
				return nil, nil, err
			}
		}

		var tasks []func(context.Context) error
		for _, pr := range open {
			author := pr.author()
			if a.excludedUsers[author] {
				continue
			}
			if pr.Draft {
				continue
			}
			if !a.passesLabelOrState(pr, true, projectStates) {
				continue
			}
			if author == a.username {
				tasks = append(tasks, func(ctx context.Context) error {
					entry, err := a.myOpenPR(ctx, repo, pr, projectStates[pr.Number])
					if err != nil {
						return err
					}
					mu.Lock()
					mine = append(mine, *entry)
					mu.Unlock()
					return nil
				})
				continue
			}
			tasks = append(tasks, func(ctx context.Context) error {
				entry, err := a.checkOpenPR(ctx, repo, pr)
				if err != nil || entry == nil {
					return err
				}
				mu.Lock()
				byAuthor[author] = append(byAuthor[author], *entry)
				mu.Unlock()
				return nil
			})
		}
		if err := runPool(ctx, a.logger, "open PRs "+repo, outerWorkerCap, tasks); err != nil {
			return nil, nil, err
		}
	}

	for author := range byAuthor {
		sortOpenPRs(byAuthor[author])
	}
	sortOpenPRs(mine)
	return byAuthor, mine, nil
}

func sortOpenPRs(prs []OpenPR) {
	sort.Slice(prs, func(i, j int) bool {
		if prs[i].Repo != prs[j].Repo {
			return prs[i].Repo < prs[j].Repo
		}
		return prs[i].Number < prs[j].Number
	})
}

// checkOpenPR decides whether one open PR still needs the analyzed user's
// review and builds its worklist entry. Returns nil when the user has
// already weighed in with a standing review or comment.
func (a *Analyzer) checkOpenPR(ctx context.Context, repo string, pr *githubPullRequest) (*OpenPR, error) {
	base := fmt.Sprintf("/repos/%s/pulls/%d", repo, pr.Number)

	// Detail first, then reviews and comments, so entries come out
	// deterministic for a given API state.
	detail := pr
	var fresh githubPullRequest
	if err := a.github.Get(ctx, base, &fresh); err != nil {
		if isQuotaError(err) {
			return nil, err
		}
		a.logger.Warn("failed to fetch PR detail", "pr", pr.Number, "error", err)
	} else {
		detail = &fresh
	}
	reviewRecords, err := a.fetchPaged(ctx, base+"/reviews", nil, false, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching reviews for PR #%d: %w", pr.Number, err)
	}
	reviews := decodeRecords[githubReview](a.logger, reviewRecords, "review")
	commentRecords, err := a.fetchPaged(ctx, base+"/comments", nil, false, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching comments for PR #%d: %w", pr.Number, err)
	}
	comments := decodeRecords[githubReviewComment](a.logger, commentRecords, "comment")

	var myReviews []*githubReview
	for _, r := range reviews {
		if r.reviewer() == a.username {
			myReviews = append(myReviews, r)
		}
	}
	myCommented := false
	for _, c := range comments {
		if c.commenter() == a.username {
			myCommented = true
			break
		}
	}

	// Already reviewed: skip, unless the latest own review was dismissed,
	// which means a fresh look is wanted.
	myReviewDismissed := false
	myPreviousReviews := 0
	if len(myReviews) > 0 || myCommented {
		myPreviousReviews = len(myReviews)
		if len(myReviews) > 0 {
			latest := myReviews[0]
			for _, r := range myReviews[1:] {
				if laterReview(r, latest) {
					latest = r
				}
			}
			if latest.State != ReviewStateDismissed {
				return nil, nil
			}
			myReviewDismissed = true
		} else {
			return nil, nil
		}
	}

	additions, deletions := detail.Additions, detail.Deletions
	if a.excludeGeneratedFiles {
		counts, err := a.filteredLineCounts(ctx, repo, pr.Number, false)
		if err != nil && isQuotaError(err) {
			return nil, err
		}
		if counts != nil {
			additions, deletions = counts.Additions, counts.Deletions
		}
	}

	requested := detail.requestedReviewerLogins()
	author := pr.author()
	states := resolveChangeRequests(reviews, author, a.username, a.excludedUsers, requested)

	reviewers := make(map[string]bool)
	for _, r := range reviews {
		reviewer := r.reviewer()
		if r.SubmittedAt == nil || reviewer == "" {
			continue
		}
		if reviewer == author || reviewer == a.username || a.excludedUsers[reviewer] {
			continue
		}
		reviewers[reviewer] = true
	}

	return &OpenPR{
		Title:                 pr.Title,
		URL:                   pr.HTMLURL,
		Repo:                  repo,
		Labels:                detail.labelNames(),
		CreatedAt:             pr.CreatedAt,
		UpdatedAt:             pr.UpdatedAt,
		Number:                pr.Number,
		Additions:             additions,
		Deletions:             deletions,
		ReviewCount:           len(reviewers),
		MyPreviousReviewCount: myPreviousReviews,
		RequestedMyReview:     requested[a.username],
		ChangesRequested:      hasActiveChangeRequest(states),
		MyReviewDismissed:     myReviewDismissed,
	}, nil
}

// myOpenPR builds the entry for one of the analyzed user's own open PRs.
func (a *Analyzer) myOpenPR(ctx context.Context, repo string, pr *githubPullRequest, projectStates []string) (*OpenPR, error) {
	base := fmt.Sprintf("/repos/%s/pulls/%d", repo, pr.Number)

	detail := pr
	var fresh githubPullRequest
	if err := a.github.Get(ctx, base, &fresh); err != nil {
		if isQuotaError(err) {
			return nil, err
		}
		a.logger.Warn("failed to fetch PR detail", "pr", pr.Number, "error", err)
	} else {
		detail = &fresh
	}
	reviewRecords, err := a.fetchPaged(ctx, base+"/reviews", nil, false, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching reviews for PR #%d: %w", pr.Number, err)
	}
	reviews := decodeRecords[githubReview](a.logger, reviewRecords, "review")

	additions, deletions := detail.Additions, detail.Deletions
	if a.excludeGeneratedFiles {
		counts, err := a.filteredLineCounts(ctx, repo, pr.Number, false)
		if err != nil && isQuotaError(err) {
			return nil, err
		}
		if counts != nil {
			additions, deletions = counts.Additions, counts.Deletions
		}
	}

	requested := detail.requestedReviewerLogins()
	requestedLogins := make([]string, 0, len(requested))
	for login := range requested {
		requestedLogins = append(requestedLogins, login)
	}
	sort.Strings(requestedLogins)

	states := resolveChangeRequests(reviews, a.username, a.username, a.excludedUsers, requested)

	reviewers := make(map[string]bool)
	for _, r := range reviews {
		reviewer := r.reviewer()
		if reviewer == "" || reviewer == a.username || a.excludedUsers[reviewer] {
			continue
		}
		reviewers[reviewer] = true
	}

	return &OpenPR{
		Title:              pr.Title,
		URL:                pr.HTMLURL,
		Repo:               repo,
		Labels:             detail.labelNames(),
		RequestedReviewers: requestedLogins,
		ProjectStates:      projectStates,
		CreatedAt:          pr.CreatedAt,
		UpdatedAt:          pr.UpdatedAt,
		Number:             pr.Number,
		Additions:          additions,
		Deletions:          deletions,
		ReviewCount:        len(reviewers),
		ChangesRequested:   hasActiveChangeRequest(states),
	}, nil
}

// laterReview reports whether a was submitted after b, treating missing
// timestamps as earliest.
func laterReview(a, b *githubReview) bool {
	if a.SubmittedAt == nil {
		return false
	}
	if b.SubmittedAt == nil {
		return true
	}
	return a.SubmittedAt.After(*b.SubmittedAt)
}
