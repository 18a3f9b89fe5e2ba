package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolStopped is returned for work submitted after Stop.
var ErrPoolStopped = errors.New("server: worker pool stopped")

// job is a unit of work to be executed on a pool goroutine.
type job struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// Pool bounds how many programs run at once. Each worker goroutine takes
// one job at a time, so at most Size engines (or circuits) execute
// concurrently no matter how many requests arrive.
type Pool struct {
	size int
	jobs chan job
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewPool creates a Pool and starts its worker goroutines.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size: size,
		jobs: make(chan job),
		quit: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// loop processes jobs sequentially on a dedicated goroutine.
func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.execute(j)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *Pool) execute(j job) (result jobResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", "panic", fmt.Sprint(r))
			result = jobResult{err: fmt.Errorf("worker panic: %v", r)}
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	v, err := j.fn(j.ctx)
	return jobResult{value: v, err: err}
}

// Do submits fn and blocks until it completes. Waiting for a free worker
// respects ctx; once started, fn is expected to honour ctx itself.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	j := job{ctx: ctx, fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrPoolStopped
	}
	r := <-j.done
	return r.value, r.err
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
