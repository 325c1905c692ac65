package runner

import (
	"context"
	"sync"
)

type Job func() error

// RunPool executes jobs with at most maxWorkers concurrently and returns
// all errors. Jobs not yet started when ctx is cancelled are skipped; the
// cancellation error is reported once per skipped job.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, maxWorkers)

	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			record(ctx.Err())
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := j(); err != nil {
				record(err)
			}
		}(job)
	}
	wg.Wait()
	return errs
}
