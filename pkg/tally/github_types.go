package tally

import "time"

// Review state constants as the API reports them.
const (
	ReviewStateApproved         = "APPROVED"
	ReviewStateChangesRequested = "CHANGES_REQUESTED"
	ReviewStateCommented        = "COMMENTED"
	ReviewStateDismissed        = "DISMISSED"
	ReviewStatePending          = "PENDING"
)

// githubUser represents a GitHub user.
type githubUser struct {
	Login string `json:"login"`
}

// githubPullRequest represents a pull request as returned by both the list
// and detail endpoints. List payloads omit additions/deletions; the detail
// fetch fills them in.
type githubPullRequest struct {
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	MergedAt  *time.Time  `json:"merged_at"`
	User      *githubUser `json:"user"`
	State     string      `json:"state"`
	Title     string      `json:"title"`
	HTMLURL   string      `json:"html_url"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	RequestedReviewers []*githubUser `json:"requested_reviewers"`
	Number             int           `json:"number"`
	Additions          int           `json:"additions"`
	Deletions          int           `json:"deletions"`
	Draft              bool          `json:"draft"`
}

func (pr *githubPullRequest) author() string {
	if pr.User == nil {
		return ""
	}
	return pr.User.Login
}

func (pr *githubPullRequest) labelNames() []string {
	names := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		names = append(names, l.Name)
	}
	return names
}

func (pr *githubPullRequest) hasLabel(name string) bool {
	for _, l := range pr.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

func (pr *githubPullRequest) requestedReviewerLogins() map[string]bool {
	logins := make(map[string]bool, len(pr.RequestedReviewers))
	for _, r := range pr.RequestedReviewers {
		if r != nil {
			logins[r.Login] = true
		}
	}
	return logins
}

// githubReview represents one submitted review verdict on a pull request.
type githubReview struct {
	SubmittedAt *time.Time  `json:"submitted_at"`
	User        *githubUser `json:"user"`
	State       string      `json:"state"`
	ID          int64       `json:"id"`
}

func (r *githubReview) reviewer() string {
	if r.User == nil {
		return ""
	}
	return r.User.Login
}

// githubReviewComment represents an inline review comment.
type githubReviewComment struct {
	User *githubUser `json:"user"`
	ID   int64       `json:"id"`
}

func (c *githubReviewComment) commenter() string {
	if c.User == nil {
		return ""
	}
	return c.User.Login
}

// githubFile represents one changed file in a pull request.
type githubFile struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}
