package tally

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeGitHub serves a small fixed repository: one merged PR reviewed by the
// analyzed user, one of the user's own PRs with an active change request,
// one untouched PR, and one whose review by the user was dismissed.
func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	now := time.Now().UTC()
	stamp := func(d time.Duration) string { return now.Add(-d).Format(time.RFC3339) }
	merged := stamp(24 * time.Hour)

	listOpen := fmt.Sprintf(`[
		{"number": 2, "state": "open", "title": "my feature", "html_url": "https://github.com/octo/repo/pull/2",
		 "user": {"login": "me"}, "created_at": %[1]q, "updated_at": %[1]q},
		{"number": 4, "state": "open", "title": "carol feature", "html_url": "https://github.com/octo/repo/pull/4",
		 "user": {"login": "carol"}, "created_at": %[1]q, "updated_at": %[1]q},
		{"number": 5, "state": "open", "title": "dave feature", "html_url": "https://github.com/octo/repo/pull/5",
		 "user": {"login": "dave"}, "created_at": %[1]q, "updated_at": %[1]q}
	]`, stamp(48*time.Hour))

	listClosed := fmt.Sprintf(`[
		{"number": 1, "state": "closed", "title": "alice fix", "html_url": "https://github.com/octo/repo/pull/1",
		 "user": {"login": "alice"}, "merged_at": %q, "created_at": %q, "updated_at": %q}
	]`, merged, stamp(72*time.Hour), merged)

	details := map[string]string{
		"1": `{"number": 1, "state": "closed", "user": {"login": "alice"}, "additions": 50, "deletions": 10}`,
		"2": `{"number": 2, "state": "open", "user": {"login": "me"}, "additions": 30, "deletions": 5,
		      "requested_reviewers": [{"login": "erin"}]}`,
		"4": `{"number": 4, "state": "open", "user": {"login": "carol"}, "additions": 8, "deletions": 2,
		      "requested_reviewers": [{"login": "me"}]}`,
		"5": `{"number": 5, "state": "open", "user": {"login": "dave"}, "additions": 12, "deletions": 4}`,
	}

	reviews := map[string]string{
		"1": fmt.Sprintf(`[{"id": 11, "user": {"login": "me"}, "state": "APPROVED", "submitted_at": %q}]`,
			stamp(30*time.Hour)),
		"2": fmt.Sprintf(`[{"id": 21, "user": {"login": "alice"}, "state": "CHANGES_REQUESTED", "submitted_at": %q}]`,
			stamp(10*time.Hour)),
		"4": `[]`,
		"5": fmt.Sprintf(`[{"id": 51, "user": {"login": "me"}, "state": "DISMISSED", "submitted_at": %q}]`,
			stamp(6*time.Hour)),
	}

	comments := map[string]string{
		"1": `[]`,
		"2": `[{"id": 201, "user": {"login": "bob"}}]`,
		"4": `[]`,
		"5": `[]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, "[]")
			return
		}
		if r.URL.Query().Get("state") == "closed" {
			fmt.Fprint(w, listClosed)
			return
		}
		fmt.Fprint(w, listOpen)
	})
	mux.HandleFunc("/repos/octo/repo/pulls/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/repos/octo/repo/pulls/")
		parts := strings.Split(rest, "/")
		num := parts[0]
		switch {
		case len(parts) == 1:
			fmt.Fprint(w, details[num])
		case parts[1] == "reviews":
			fmt.Fprint(w, pageOrEmpty(r, reviews[num]))
		case parts[1] == "comments":
			fmt.Fprint(w, pageOrEmpty(r, comments[num]))
		default:
			http.NotFound(w, r)
		}
	})
	return httptest.NewServer(mux)
}

func pageOrEmpty(r *http.Request, body string) string {
	if r.URL.Query().Get("page") != "1" {
		return "[]"
	}
	return body
}

func TestAnalyzeEndToEnd(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	a := newTestAnalyzer(t, server.URL, WithNoCache())
	report, err := a.Analyze(context.Background(), []string{"octo/repo"}, 3)
	if err != nil {
		t.Fatal(err)
	}

	// I approved alice's merged 60-line PR.
	alice := report.ReviewedByMe["alice"]
	if alice == nil {
		t.Fatal("alice missing from reviewed_by_me")
	}
	if alice.PRsReviewed != 1 || alice.LinesReviewed() != 60 || alice.ReviewEvents != 1 {
		t.Errorf("reviewed_by_me[alice] = %d PRs / %d lines / %d events, want 1 / 60 / 1",
			alice.PRsReviewed, alice.LinesReviewed(), alice.ReviewEvents)
	}

	// Alice reviewed and bob commented on my 35-line PR.
	if got := report.ReviewedByOthers["alice"]; got == nil || got.LinesReviewed() != 35 || got.ReviewEvents != 1 {
		t.Errorf("reviewed_by_others[alice] = %+v, want 35 lines and 1 review event", got)
	}
	if got := report.ReviewedByOthers["bob"]; got == nil || got.Comments != 1 {
		t.Errorf("reviewed_by_others[bob] = %+v, want 1 comment", got)
	}

	// My dismissed review on dave's PR still counts as a review event.
	if got := report.ReviewedByMe["dave"]; got == nil || got.ReviewEvents != 1 {
		t.Errorf("reviewed_by_me[dave] = %+v, want 1 review event", got)
	}

	if got := Balance(report.ReviewedByMe, report.ReviewedByOthers, "alice"); got != 35-60 {
		t.Errorf("Balance(alice) = %d, want -25", got)
	}

	for _, author := range []string{"alice", "carol", "dave"} {
		found := false
		for _, got := range report.PRAuthors {
			if got == author {
				found = true
			}
		}
		if !found {
			t.Errorf("pr_authors missing %s (got %v)", author, report.PRAuthors)
		}
	}
}

func TestAnalyzePartialResultsOnRepoFailure(t *testing.T) {
	merged := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/octo/good/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" || r.URL.Query().Get("state") != "closed" {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprintf(w, `[{"number": 1, "state": "closed", "title": "fix", "html_url": "https://github.com/octo/good/pull/1",
			"user": {"login": "alice"}, "merged_at": %[1]q, "created_at": %[1]q, "updated_at": %[1]q}]`, merged)
	})
	mux.HandleFunc("/repos/octo/good/pulls/1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"number": 1, "state": "closed", "user": {"login": "alice"}, "additions": 10, "deletions": 2}`)
	})
	mux.HandleFunc("/repos/octo/good/pulls/1/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageOrEmpty(r, fmt.Sprintf(
			`[{"id": 1, "user": {"login": "me"}, "state": "APPROVED", "submitted_at": %q}]`, merged)))
	})
	mux.HandleFunc("/repos/octo/good/pulls/1/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, pageOrEmpty(r, "[]"))
	})
	mux.HandleFunc("/repos/octo/gone/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a := newTestAnalyzer(t, server.URL, WithNoCache())
	report, err := a.Analyze(context.Background(), []string{"octo/gone", "octo/good"}, 3)
	if err != nil {
		t.Fatalf("Analyze returned %v; one broken repository should not abort the run", err)
	}

	// The healthy repository still contributes its results.
	alice := report.ReviewedByMe["alice"]
	if alice == nil {
		t.Fatal("alice missing from reviewed_by_me")
	}
	if alice.PRsReviewed != 1 || alice.LinesReviewed() != 12 {
		t.Errorf("reviewed_by_me[alice] = %d PRs / %d lines, want 1 / 12",
			alice.PRsReviewed, alice.LinesReviewed())
	}
}

func TestOpenPRWorklist(t *testing.T) {
	server := fakeGitHub(t)
	defer server.Close()

	a := newTestAnalyzer(t, server.URL, WithNoCache())
	byAuthor, mine, err := a.OpenPRsNeedingReview(context.Background(), []string{"octo/repo"})
	if err != nil {
		t.Fatal(err)
	}

	// Carol's untouched PR needs my review, and I was requested.
	carol := byAuthor["carol"]
	if len(carol) != 1 {
		t.Fatalf("carol has %d worklist entries, want 1", len(carol))
	}
	if !carol[0].RequestedMyReview {
		t.Error("requested_my_review = false, want true")
	}
	if carol[0].ChangesRequested {
		t.Error("carol's PR has no change requests")
	}
	if carol[0].Additions != 8 || carol[0].Deletions != 2 {
		t.Errorf("carol's PR counts = +%d/-%d, want +8/-2", carol[0].Additions, carol[0].Deletions)
	}

	// Dave's PR comes back because my review was dismissed.
	dave := byAuthor["dave"]
	if len(dave) != 1 {
		t.Fatalf("dave has %d worklist entries, want 1", len(dave))
	}
	if !dave[0].MyReviewDismissed {
		t.Error("my_review_dismissed = false, want true")
	}
	if dave[0].MyPreviousReviewCount != 1 {
		t.Errorf("my_previous_review_count = %d, want 1", dave[0].MyPreviousReviewCount)
	}

	// My own PR is listed separately with alice's change request active.
	if len(mine) != 1 {
		t.Fatalf("got %d of my open PRs, want 1", len(mine))
	}
	if mine[0].Number != 2 {
		t.Errorf("my open PR number = %d, want 2", mine[0].Number)
	}
	if !mine[0].ChangesRequested {
		t.Error("my PR should show alice's active change request")
	}
	if len(mine[0].RequestedReviewers) != 1 || mine[0].RequestedReviewers[0] != "erin" {
		t.Errorf("requested_reviewers = %v, want [erin]", mine[0].RequestedReviewers)
	}
}
