package tally

import "time"

// selectPullRequests filters raw PRs down to the ones worth analyzing.
//
// Deduplication keeps the first occurrence of each PR number. Open PRs are
// always recent enough; closed PRs must be merged at or after since, and
// closed-but-unmerged PRs are dropped. Drafts never qualify. When a required
// label or project state is configured, open PRs pass if they carry the label
// or the project state (either suffices); closed PRs are checked against the
// label only, since project boards track live work.
func (a *Analyzer) selectPullRequests(prs []*githubPullRequest, since time.Time, projectStates map[int][]string) []*githubPullRequest {
	seen := make(map[int]bool, len(prs))
	eligible := make([]*githubPullRequest, 0, len(prs))
	for _, pr := range prs {
		if seen[pr.Number] {
			continue
		}
		seen[pr.Number] = true

		open := pr.State == "open"
		if !open {
			if pr.MergedAt == nil || pr.MergedAt.Before(since) {
				continue
			}
		}
		if pr.Draft {
			continue
		}
		if !a.passesLabelOrState(pr, open, projectStates) {
			continue
		}
		eligible = append(eligible, pr)
	}
	return eligible
}

func (a *Analyzer) passesLabelOrState(pr *githubPullRequest, open bool, projectStates map[int][]string) bool {
	if a.requiredLabel == "" && a.requiredProjectState == "" {
		return true
	}
	hasLabel := a.requiredLabel != "" && pr.hasLabel(a.requiredLabel)
	if !open {
		// Closed PRs only ever gate on the label. A state-only filter
		// leaves them unconstrained.
		if a.requiredLabel == "" {
			return true
		}
		return hasLabel
	}
	if hasLabel {
		return true
	}
	if a.requiredProjectState != "" {
		for _, state := range projectStates[pr.Number] {
			if state == a.requiredProjectState {
				return true
			}
		}
	}
	return false
}
