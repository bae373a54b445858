package tally

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/reviewtally/pkg/tally/github"
)

// Worker pool sizing. The outer pool fans out over the PRs of a repository
// and each PR task opens an inner pool for its detail/reviews/comments
// fetches; outerWorkerCap*innerWorkerCap concurrent requests must stay
// within the transport's connection pool (maxIdleConnsPerHost, sized with
// headroom above the product).
const (
	outerWorkerCap = 10
	innerWorkerCap = 3
	progressEvery  = 10
)

// isQuotaError reports whether err wraps API quota exhaustion, the one
// error class that aborts an analysis run.
func isQuotaError(err error) bool {
	var quotaErr *github.QuotaError
	return errors.As(err, &quotaErr)
}

// runPool executes tasks on a bounded pool of min(cap, len(tasks)) workers.
// A task's failure is logged and counted as processed with no contribution;
// sibling tasks keep running and there are no retries across tasks. The one
// exception is quota exhaustion, which aborts the batch and propagates so
// the process can terminate.
func runPool(ctx context.Context, logger *slog.Logger, label string, workerCap int, tasks []func(context.Context) error) error {
	if len(tasks) == 0 {
		return nil
	}
	if workerCap > len(tasks) {
		workerCap = len(tasks)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerCap)

	var completed atomic.Int64
	total := len(tasks)

	for _, task := range tasks {
		g.Go(func() error {
			err := task(ctx)
			if err != nil {
				if isQuotaError(err) {
					return err
				}
				logger.Error("task failed", "pool", label, "error", err)
			}

			done := completed.Add(1)
			if done%progressEvery == 0 || done == int64(total) {
				logger.Info("progress", "pool", label, "completed", done, "total", total)
			}
			return nil
		})
	}

	return g.Wait()
}
