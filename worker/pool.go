// Package worker runs sequence evaluations on a bounded set of goroutines.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Source hands out the keys (sequence IDs) that are due for work.
type Source interface {
	// Next blocks until a key is due or stop is closed. ok is false when
	// the pool should exit.
	Next(stop <-chan struct{}) (key string, ok bool)
}

// Task processes one key. ctx is cancelled when a shutdown deadline
// expires.
type Task func(ctx context.Context, key string)

// Pool manages a set of concurrent worker goroutines that take keys from
// a Source and run a Task for each. A key is never handed out twice at
// once; the Source guarantees that.
type Pool struct {
	source      Source
	task        Task
	concurrency int
	logger      *slog.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(source Source, task Task, opts ...PoolOption) *Pool {
	p := &Pool{
		source:      source,
		task:        task,
		concurrency: 8,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))
	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. If ctx
// expires first, in-flight tasks are cancelled and then awaited.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active evaluations")
		p.cancelActive()
		<-done
	}
	return nil
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// loop is run by each worker goroutine.
func (p *Pool) loop() {
	defer p.wg.Done()

	for {
		key, ok := p.source.Next(p.stopCh)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(key, cancel)
		p.run(ctx, key)
		p.untrack(key)
		cancel()
	}
}

func (p *Pool) run(ctx context.Context, key string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				slog.String("key", key),
				slog.Any("panic", r),
			)
		}
	}()
	p.task(ctx, key)
}

func (p *Pool) track(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(key string) {
	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling active evaluation", slog.String("key", key))
		cancel()
	}
}
