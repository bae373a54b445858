package tally

import (
	"encoding/json"
	"sort"
	"sync"
)

// PRSummary is the per-PR line item appended to a collaborator's stats.
type PRSummary struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Number    int    `json:"number"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// ReviewStats accumulates one direction of review activity between the
// analyzed user and a collaborator. Lines reviewed is always the sum of
// additions and deletions, computed on read and never stored.
type ReviewStats struct {
	PRs               []PRSummary `json:"prs"`
	PRsReviewed       int         `json:"prs_reviewed"`
	AdditionsReviewed int         `json:"additions_reviewed"`
	DeletionsReviewed int         `json:"deletions_reviewed"`
	ReviewEvents      int         `json:"review_events"`
	Comments          int         `json:"comments"`
}

// LinesReviewed returns the total lines reviewed.
func (s *ReviewStats) LinesReviewed() int {
	return s.AdditionsReviewed + s.DeletionsReviewed
}

// MarshalJSON emits the computed lines_reviewed alongside the stored fields.
func (s *ReviewStats) MarshalJSON() ([]byte, error) {
	type alias ReviewStats
	return json.Marshal(struct {
		*alias
		LinesReviewed int `json:"lines_reviewed"`
	}{(*alias)(s), s.LinesReviewed()})
}

// reviewerActivity is the per-reviewer activity observed on one PR.
type reviewerActivity struct {
	reviewEvents int
	comments     int
}

// statsMap maps collaborator login to accumulated stats with get-or-default
// semantics: first reference to a key inserts a zero-valued entry.
type statsMap map[string]*ReviewStats

func (m statsMap) get(user string) *ReviewStats {
	if s, ok := m[user]; ok {
		return s
	}
	s := &ReviewStats{}
	m[user] = s
	return s
}

// balanceAggregator folds per-PR analyses into the two directional stats
// maps. The maps are the only shared mutable state of an analysis run; all
// updates happen inside one critical section per PR completion.
type balanceAggregator struct {
	reviewedByMe     statsMap
	reviewedByOthers statsMap
	prAuthors        map[string]bool
	mu               sync.Mutex
}

func newBalanceAggregator() *balanceAggregator {
	return &balanceAggregator{
		reviewedByMe:     make(statsMap),
		reviewedByOthers: make(statsMap),
		prAuthors:        make(map[string]bool),
	}
}

// record folds one analyzed PR into the stats maps. When the analyzed user
// authored the PR, every other reviewer with activity is credited in
// reviewed_by_others. Otherwise the PR author is credited in reviewed_by_me,
// but only if the analyzed user actually reviewed or commented.
func (b *balanceAggregator) record(
	self string,
	pr *githubPullRequest,
	activity map[string]*reviewerActivity,
	myReviewEvents, myComments int,
) {
	summary := PRSummary{
		Title:     pr.Title,
		URL:       pr.HTMLURL,
		Number:    pr.Number,
		Additions: pr.Additions,
		Deletions: pr.Deletions,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	author := pr.author()
	if author != self {
		b.prAuthors[author] = true
	}

	if author == self {
		for reviewer, act := range activity {
			stats := b.reviewedByOthers.get(reviewer)
			stats.PRsReviewed++
			stats.AdditionsReviewed += pr.Additions
			stats.DeletionsReviewed += pr.Deletions
			stats.ReviewEvents += act.reviewEvents
			stats.Comments += act.comments
			stats.PRs = append(stats.PRs, summary)
		}
		return
	}

	if myReviewEvents == 0 && myComments == 0 {
		return
	}
	stats := b.reviewedByMe.get(author)
	stats.PRsReviewed++
	stats.AdditionsReviewed += pr.Additions
	stats.DeletionsReviewed += pr.Deletions
	stats.ReviewEvents += myReviewEvents
	stats.Comments += myComments
	stats.PRs = append(stats.PRs, summary)
}

// authors returns the sorted set of PR authors observed during the run.
func (b *balanceAggregator) authors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.prAuthors))
	for author := range b.prAuthors {
		out = append(out, author)
	}
	sort.Strings(out)
	return out
}

// Balance is the signed line difference for one collaborator: lines they
// reviewed for the analyzed user minus lines the analyzed user reviewed for
// them. Positive means the analyzed user owes that collaborator reviews.
// Computed on read, never stored.
func Balance(reviewedByMe, reviewedByOthers map[string]*ReviewStats, collaborator string) int {
	var owed, repaid int
	if s, ok := reviewedByOthers[collaborator]; ok {
		owed = s.LinesReviewed()
	}
	if s, ok := reviewedByMe[collaborator]; ok {
		repaid = s.LinesReviewed()
	}
	return owed - repaid
}
