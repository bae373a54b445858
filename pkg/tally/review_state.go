package tally

import (
	"sort"
	"time"
)

// reviewerState is the outcome of replaying one reviewer's review history
// on a single pull request.
type reviewerState struct {
	lastChangesRequested time.Time
	activeChangeRequest  bool
}

// resolveChangeRequests replays each reviewer's review history and decides
// whose change request is still active. The rules:
//
//   - reviews without a submitted timestamp (pending drafts) are ignored
//   - reviews by the PR author, the analyzed user, or an excluded user are
//     ignored
//   - a reviewer the platform currently lists in requestedReviewers has
//     been asked to re-review after new commits; their entire prior history
//     on this PR is void
//   - the remaining reviews are replayed per reviewer in ascending
//     submitted order: CHANGES_REQUESTED arms the flag and records its
//     time, APPROVED clears it only when submitted strictly after the most
//     recent CHANGES_REQUESTED, DISMISSED clears it unconditionally, and
//     COMMENTED never changes it
//
// This is the one implementation of the decision; every caller that needs
// "is this PR blocked by a change request" goes through it.
func resolveChangeRequests(
	reviews []*githubReview,
	prAuthor, self string,
	excludedUsers map[string]bool,
	requestedReviewers map[string]bool,
) map[string]*reviewerState {
	byReviewer := make(map[string][]*githubReview)
	for _, review := range reviews {
		if review.SubmittedAt == nil {
			continue
		}
		reviewer := review.reviewer()
		if reviewer == "" || reviewer == prAuthor || reviewer == self || excludedUsers[reviewer] {
			continue
		}
		if requestedReviewers[reviewer] {
			continue
		}
		byReviewer[reviewer] = append(byReviewer[reviewer], review)
	}

	states := make(map[string]*reviewerState, len(byReviewer))
	for reviewer, history := range byReviewer {
		sort.Slice(history, func(i, j int) bool {
			return history[i].SubmittedAt.Before(*history[j].SubmittedAt)
		})

		state := &reviewerState{}
		for _, review := range history {
			switch review.State {
			case ReviewStateChangesRequested:
				state.activeChangeRequest = true
				state.lastChangesRequested = *review.SubmittedAt
			case ReviewStateApproved:
				if review.SubmittedAt.After(state.lastChangesRequested) {
					state.activeChangeRequest = false
				}
			case ReviewStateDismissed:
				state.activeChangeRequest = false
			default:
				// COMMENTED and anything unrecognized never clear a change request.
			}
		}
		states[reviewer] = state
	}

	return states
}

// hasActiveChangeRequest reports whether any reviewer's replay ended with
// an armed change request.
func hasActiveChangeRequest(states map[string]*reviewerState) bool {
	for _, s := range states {
		if s.activeChangeRequest {
			return true
		}
	}
	return false
}
