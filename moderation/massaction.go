package moderation

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

const DefaultBatchConcurrency = 5

// BatchResult pairs one target with the outcome of its sub-action.
type BatchResult struct {
	Target  User
	Outcome *ActionOutcome
}

// Successes counts the sub-actions that completed.
func Successes(results []BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome != nil && r.Outcome.Success {
			n++
		}
	}
	return n
}

// ExecuteBatch fans the requests out with at most maxConcurrent in
// flight, and waits for all of them. One sub-action failing never
// cancels the others; each target gets its own outcome in the result.
//
// Cancelling ctx stops sub-actions that have not been dispatched yet;
// already-performed ones are not rolled back.
func (x *Executor) ExecuteBatch(ctx context.Context, reqs []*ActionRequest, maxConcurrent int64) []BatchResult {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultBatchConcurrency
	}

	sem := semaphore.NewWeighted(maxConcurrent)
	results := make([]BatchResult, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		results[i].Target = req.Target

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Outcome = &ActionOutcome{
				Err:                  err,
				FailureKind:          FailureTransient,
				SuppressNotification: req.Silent,
			}
			continue
		}

		wg.Add(1)
		go func(i int, req *ActionRequest) {
			defer wg.Done()
			defer sem.Release(1)

			results[i].Outcome = x.Execute(ctx, req)
		}(i, req)
	}

	wg.Wait()
	return results
}
