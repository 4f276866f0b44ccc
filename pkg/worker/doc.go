// Package worker provides a bounded, generic worker pool.
//
// Submit never blocks: when the queue is full the work item is rejected with
// ErrQueueFull so callers running on a message-delivery goroutine are never
// stalled. Every processed item produces a Result on the channel returned by
// Results when the pool was built WithResults, which makes failures of
// background work observable instead of silently lost.
//
//	pool := worker.NewPool(2, 64, register, worker.WithResults[task](64))
//	_ = pool.Start(ctx)
//	go func() {
//	    for res := range pool.Results() {
//	        if res.Err != nil { ... }
//	    }
//	}()
package worker
