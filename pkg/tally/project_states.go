package tally

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/codeGROOVE-dev/reviewtally/pkg/tally/github"
)

// maxStatesPerQuery caps how many PRs one aliased GraphQL query covers,
// keeping each query under the API's complexity limits.
const maxStatesPerQuery = 50

// projectItemNode is one project-board membership of a PR.
type projectItemNode struct {
	Project struct {
		Number int `json:"number"`
	} `json:"project"`
	FieldValueByName *struct {
		Name string `json:"name"`
	} `json:"fieldValueByName"`
}

type projectStatePR struct {
	Number       int `json:"number"`
	ProjectItems struct {
		Nodes []projectItemNode `json:"nodes"`
	} `json:"projectItems"`
}

// fetchProjectStates returns the project-board status names for each PR
// number, batched into aliased bulk queries. A failed batch degrades to empty
// state lists for its PR numbers so filtering falls back to labels; the first
// failure logs setup guidance once per run. Only quota exhaustion is returned
// as an error.
func (a *Analyzer) fetchProjectStates(ctx context.Context, repo string, numbers []int) (map[int][]string, error) {
	if a.requiredProjectState == "" || len(numbers) == 0 {
		return map[int][]string{}, nil
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		a.logger.Warn("skipping project states for malformed repository", "repo", repo)
		return map[int][]string{}, nil
	}

	var batches [][]int
	for start := 0; start < len(numbers); start += maxStatesPerQuery {
		end := min(start+maxStatesPerQuery, len(numbers))
		batches = append(batches, numbers[start:end])
	}

	states := make(map[int][]string, len(numbers))
	var mu sync.Mutex
	tasks := make([]func(context.Context) error, 0, len(batches))
	for i, batch := range batches {
		tasks = append(tasks, func(ctx context.Context) error {
			result, err := a.fetchStateBatch(ctx, owner, name, i, batch)
			mu.Lock()
			for num, list := range result {
				states[num] = list
			}
			mu.Unlock()
			return err
		})
	}
	if err := runPool(ctx, a.logger, "project states", outerWorkerCap, tasks); err != nil {
		return states, err
	}
	return states, nil
}

func (a *Analyzer) fetchStateBatch(ctx context.Context, owner, name string, index int, batch []int) (map[int][]string, error) {
	result := make(map[int][]string, len(batch))
	for _, num := range batch {
		result[num] = nil
	}

	var data struct {
		Repository map[string]json.RawMessage `json:"repository"`
	}
	query := buildProjectStatesQuery(owner, name, batch)
	if err := a.github.GraphQL(ctx, query, nil, &data); err != nil {
		var quota *github.QuotaError
		if errors.As(err, &quota) {
			return result, err
		}
		a.logger.Warn("project state batch failed", "batch", index+1, "error", err)
		a.stateGuidanceOnce.Do(func() {
			a.logger.Warn("project state fetching requires a token with project read scope, " +
				"Projects v2 boards, and PRs boarded with a Status field; " +
				"continuing with label-only filtering")
		})
		return result, nil
	}

	for _, num := range batch {
		raw, ok := data.Repository[fmt.Sprintf("pr_%d", num)]
		if !ok || string(raw) == "null" {
			continue
		}
		var pr projectStatePR
		if err := json.Unmarshal(raw, &pr); err != nil {
			a.logger.Warn("malformed project state entry", "pr", num, "error", err)
			continue
		}
		for _, item := range pr.ProjectItems.Nodes {
			if a.projectNumber != 0 && item.Project.Number != a.projectNumber {
				continue
			}
			if item.FieldValueByName != nil && item.FieldValueByName.Name != "" {
				result[num] = append(result[num], item.FieldValueByName.Name)
			}
		}
	}
	return result, nil
}

func buildProjectStatesQuery(owner, name string, numbers []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "query {\n  repository(owner: %q, name: %q) {\n", owner, name)
	for _, num := range numbers {
		fmt.Fprintf(&b, `    pr_%d: pullRequest(number: %d) {
      number
      projectItems(first: 10) {
        nodes {
          project { number }
          fieldValueByName(name: "Status") {
            ... on ProjectV2ItemFieldSingleSelectValue { name }
          }
        }
      }
    }
`, num, num)
	}
	b.WriteString("  }\n}")
	return b.String()
}
