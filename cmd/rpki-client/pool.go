package main

import (
	"context"
	"fmt"

	"github.com/cuemby/rpki-client/pkg/ipc"
)

// workerPool round-robins parse requests across a fixed set of parser
// worker processes, so the CPU-bound ASN.1/CMS parsing spec.md treats
// as a black-box crypto library can run on more than one core even
// though the ingress queue itself drains on a single goroutine.
type workerPool struct {
	workers []*ipc.Worker
	next    int
}

// spawnWorkerPool starts n parser worker processes, cfg.Workers of
// them in the normal run path.
func spawnWorkerPool(ctx context.Context, n int) (*workerPool, error) {
	if n <= 0 {
		n = 1
	}
	pool := &workerPool{}
	for i := 0; i < n; i++ {
		w, err := ipc.Spawn(ctx, ipc.KindParser)
		if err != nil {
			pool.Stop()
			return nil, fmt.Errorf("rpki-client: spawn parser worker %d: %w", i, err)
		}
		pool.workers = append(pool.workers, w)
	}
	return pool, nil
}

// take returns the next worker to use, in round-robin order.
func (p *workerPool) take() *ipc.Worker {
	w := p.workers[p.next%len(p.workers)]
	p.next++
	return w
}

// Stop stops every worker in the pool, collecting the first error if
// any worker fails to exit cleanly.
func (p *workerPool) Stop() error {
	var firstErr error
	for _, w := range p.workers {
		if err := w.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
