package attendance

import "context"

// WorkerPool bounds the number of concurrent embedding calls.
type WorkerPool struct {
	sem chan struct{}
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Do runs fn once a slot is free. Waiting for a slot honours ctx.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn(ctx)
}
