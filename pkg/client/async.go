package client

import (
	"context"
	"sync"
)

// Future is the handle Submit returns. Await blocks until the submitted
// call completes or ctx is done, mirroring the original asyncio client's
// "run the sync call in a thread pool, await the result" shape with
// goroutines and channels instead of an event loop executor.
type Future struct {
	done chan struct{}
	out  any
	err  error
}

// Await blocks until the result is ready, returning early if ctx is
// cancelled first (the submitted call itself keeps running in that case;
// it was handed its own context at Submit time).
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.out, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AsyncClient submits Client calls onto a fixed-size worker pool and hands
// back a Future, so the dispatch runs on a worker goroutine rather than the
// caller's own. Submit blocks only while the job queue (poolSize*4 entries)
// is full.
type AsyncClient struct {
	sync *Client
	jobs chan func()
	wg   sync.WaitGroup
}

// NewAsync builds an AsyncClient over sync with poolSize worker goroutines.
func NewAsync(sync *Client, poolSize int) *AsyncClient {
	a := &AsyncClient{sync: sync, jobs: make(chan func(), poolSize*4)}
	for i := 0; i < poolSize; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *AsyncClient) worker() {
	defer a.wg.Done()
	for job := range a.jobs {
		job()
	}
}

// Submit dispatches method on the worker pool and returns a Future for the
// unmarshaled result (a map[string]any for handlers that return an object).
func (a *AsyncClient) Submit(ctx context.Context, method string, params any) *Future {
	f := &Future{done: make(chan struct{})}
	a.jobs <- func() {
		var out map[string]any
		err := a.sync.Call(ctx, method, params, &out)
		f.out, f.err = out, err
		close(f.done)
	}
	return f
}

// Close stops accepting new work and waits for in-flight jobs to finish.
// Submitting after Close panics, same as sending on a closed channel.
func (a *AsyncClient) Close() {
	close(a.jobs)
	a.wg.Wait()
}
