package systems

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of loading work.
type Job func(ctx context.Context) error

// JobSystem runs batches of loading jobs on a bounded number of goroutines.
type JobSystem struct {
	numWorkers int
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")

// NewJobSystem bounds batches to numWorkers goroutines; 0 means one per CPU.
func NewJobSystem(numWorkers int) (*JobSystem, error) {
	if numWorkers == 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers < 0 {
		return nil, ErrNoWorkers
	}
	return &JobSystem{numWorkers: numWorkers}, nil
}

func (js *JobSystem) Workers() int {
	return js.numWorkers
}

// Run executes jobs and returns the first error. Once a job fails the
// context handed to the others is canceled.
func (js *JobSystem) Run(ctx context.Context, jobs ...Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(js.numWorkers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return job(gctx)
		})
	}
	return g.Wait()
}

/**
 * @brief Shuts the job system down.
 */
func (js *JobSystem) Shutdown() error {
	return nil
}
