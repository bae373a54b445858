package tally

import (
	"testing"
	"time"
)

func testPR(number int, state string, mergedAt *time.Time, draft bool, labels ...string) *githubPullRequest {
	pr := &githubPullRequest{
		Number:   number,
		State:    state,
		MergedAt: mergedAt,
		Draft:    draft,
		User:     &githubUser{Login: "author"},
	}
	for _, l := range labels {
		pr.Labels = append(pr.Labels, struct {
			Name string `json:"name"`
		}{Name: l})
	}
	return pr
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSelectPullRequestsDeduplicates(t *testing.T) {
	a := &Analyzer{logger: discardLogger()}
	since := time.Now().AddDate(0, 0, -90)

	first := testPR(7, "open", nil, false)
	first.Title = "first"
	dup := testPR(7, "open", nil, false)
	dup.Title = "second"

	got := a.selectPullRequests([]*githubPullRequest{first, dup}, since, nil)
	if len(got) != 1 {
		t.Fatalf("got %d PRs, want 1", len(got))
	}
	if got[0].Title != "first" {
		t.Errorf("dedupe kept %q, want first occurrence", got[0].Title)
	}
}

func TestSelectPullRequestsWindow(t *testing.T) {
	a := &Analyzer{logger: discardLogger()}
	now := time.Now()
	since := now.AddDate(0, 0, -3*daysPerMonth)

	tests := []struct {
		name string
		pr   *githubPullRequest
		want bool
	}{
		{
			name: "merged 40 days ago included",
			pr:   testPR(1, "closed", timePtr(now.AddDate(0, 0, -40)), false),
			want: true,
		},
		{
			name: "merged 200 days ago excluded",
			pr:   testPR(2, "closed", timePtr(now.AddDate(0, 0, -200)), false),
			want: false,
		},
		{
			name: "open PR included regardless of age",
			pr: func() *githubPullRequest {
				pr := testPR(3, "open", nil, false)
				pr.CreatedAt = now.AddDate(-2, 0, 0)
				return pr
			}(),
			want: true,
		},
		{
			name: "open draft excluded",
			pr:   testPR(4, "open", nil, true),
			want: false,
		},
		{
			name: "closed draft excluded even inside window",
			pr:   testPR(5, "closed", timePtr(now.AddDate(0, 0, -10)), true),
			want: false,
		},
		{
			name: "closed but unmerged excluded",
			pr:   testPR(6, "closed", nil, false),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.selectPullRequests([]*githubPullRequest{tt.pr}, since, nil)
			if included := len(got) == 1; included != tt.want {
				t.Errorf("included = %v, want %v", included, tt.want)
			}
		})
	}
}

func TestSelectPullRequestsLabelAndState(t *testing.T) {
	since := time.Now().AddDate(0, 0, -90)
	merged := timePtr(time.Now().AddDate(0, 0, -5))
	states := map[int][]string{10: {"In Review"}, 11: nil}

	tests := []struct {
		name          string
		label         string
		projectState  string
		pr            *githubPullRequest
		projectStates map[int][]string
		want          bool
	}{
		{
			name:  "open PR with label passes",
			label: "ready",
			pr:    testPR(10, "open", nil, false, "ready"),
			want:  true,
		},
		{
			name:          "open PR without label passes via project state",
			label:         "ready",
			projectState:  "In Review",
			pr:            testPR(10, "open", nil, false),
			projectStates: states,
			want:          true,
		},
		{
			name:          "open PR with neither fails",
			label:         "ready",
			projectState:  "In Review",
			pr:            testPR(11, "open", nil, false),
			projectStates: states,
			want:          false,
		},
		{
			name:  "closed PR checked against label only",
			label: "ready",
			pr:    testPR(12, "closed", merged, false, "ready"),
			want:  true,
		},
		{
			name:  "closed PR missing label fails",
			label: "ready",
			pr:    testPR(13, "closed", merged, false),
			want:  false,
		},
		{
			name:          "state-only filter leaves closed PRs unconstrained",
			projectState:  "In Review",
			pr:            testPR(14, "closed", merged, false),
			projectStates: states,
			want:          true,
		},
		{
			name: "no filters configured passes everything",
			pr:   testPR(15, "open", nil, false),
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Analyzer{
				logger:               discardLogger(),
				requiredLabel:        tt.label,
				requiredProjectState: tt.projectState,
			}
			got := a.selectPullRequests([]*githubPullRequest{tt.pr}, since, tt.projectStates)
			if included := len(got) == 1; included != tt.want {
				t.Errorf("included = %v, want %v", included, tt.want)
			}
		})
	}
}
