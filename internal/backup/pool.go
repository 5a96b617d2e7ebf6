package backup

import (
	"context"

	"mysql-auto-backup/internal/config"

	"golang.org/x/sync/errgroup"
)

// MaxWorkers bounds concurrent jobs.
const MaxWorkers = 4

// RunAll runs fn for every job with at most min(workers, MaxWorkers, len(jobs)) in flight.
// workers <= 0 means MaxWorkers. Results keep the order of jobs.
func RunAll(ctx context.Context, jobs []*config.JobConfig, workers int, fn func(context.Context, *config.JobConfig) *Run) []*Run {
	results := make([]*Run, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	if workers <= 0 || workers > MaxWorkers {
		workers = MaxWorkers
	}

	var g errgroup.Group
	g.SetLimit(min(workers, len(jobs)))
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = fn(ctx, job)
			return nil
		})
	}
	g.Wait()
	return results
}
