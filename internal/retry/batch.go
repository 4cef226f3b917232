package retry

import (
	"context"
	"fmt"
	"sync"
)

// ItemFailure records why one batch item failed.
type ItemFailure struct {
	Index int
	Err   error
}

// BatchResult counts batch outcomes.
type BatchResult struct {
	Succeeded int
	Failed    int
	Failures  []ItemFailure
}

// ExecuteBatch runs fn for every item with at most concurrency items in
// flight, using a fixed pool of workers. A failing or panicking item never
// stops its siblings. Items not started before ctx ends are counted as failed
// with ctx.Err(). Failures are reported in item order.
func ExecuteBatch[I any](ctx context.Context, items []I, concurrency int, fn func(context.Context, I) error) BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	errs := make([]error, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = runItem(ctx, items[i], fn)
			}
		}()
	}

	next := 0
feed:
	for ; next < len(items); next++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(items); i++ {
		errs[i] = ctx.Err()
	}

	var res BatchResult
	for i, err := range errs {
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, ItemFailure{Index: i, Err: err})
			continue
		}
		res.Succeeded++
	}
	return res
}

func runItem[I any](ctx context.Context, item I, fn func(context.Context, I) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch item panicked: %v", r)
		}
	}()
	return fn(ctx, item)
}
