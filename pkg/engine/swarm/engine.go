// Package swarm provides the bounded worker pool used for inventory listing
// and batch reclamation. Upstream APIs throttle aggressively, so the pool
// never exceeds MaxWorkers and backs off further on throttle feedback.
package swarm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Submit once the pool has shut down.
var ErrStopped = errors.New("worker pool stopped")

// Task represents a unit of work for the pool.
type Task func(ctx context.Context) error

// Engine manages the worker pool and concurrency.
type Engine struct {
	// MaxWorkers is the hard concurrency ceiling (configuration, never
	// exceeded regardless of AIMD feedback).
	MaxWorkers int

	// Throttled classifies task errors as upstream throttling. Nil means
	// no feedback-driven scale-down.
	Throttled func(error) bool

	aimd   *AIMD
	tasks  chan Task
	wg     sync.WaitGroup
	quit   chan struct{}
	ctx    context.Context
	active int
	mu     sync.Mutex
	stats  Stats
}

// Stats holds runtime statistics for the engine.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
}

// NewEngine creates a pool with a default ceiling of 8 workers.
func NewEngine() *Engine {
	return &Engine{
		MaxWorkers: 8,
		aimd:       NewAIMD(8, 1, 500),
		tasks:      make(chan Task, 1024),
		quit:       make(chan struct{}),
		ctx:        context.Background(),
	}
}

// Start begins the manager loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
	go e.loop(ctx)
}

// Submit adds a task to the queue. Callers track completion with their own
// WaitGroup wrapped around the task. Once the pool's context is cancelled
// or Stop has been called, Submit rejects the task instead of queueing it
// where nothing would ever run it; callers record the rejection and move on
// to their join.
func (e *Engine) Submit(t Task) error {
	ctx := e.context()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrStopped
	default:
	}
	select {
	case e.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrStopped
	}
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx
}

// Stop drains the pool and waits for in-flight tasks.
func (e *Engine) Stop() {
	close(e.quit)
	e.wg.Wait()
}

// GetStats returns current engine stats.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		ActiveWorkers:  e.active,
		Concurrency:    e.target(),
		TasksCompleted: e.stats.TasksCompleted,
	}
}

// target is the effective concurrency: AIMD-adjusted, clamped to MaxWorkers.
// Callers must hold e.mu or tolerate a stale read.
func (e *Engine) target() int {
	t := e.aimd.GetConcurrency()
	if t > e.MaxWorkers {
		t = e.MaxWorkers
	}
	if t < 1 {
		t = 1
	}
	return t
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Workers stop picking up work on cancellation, but tasks
			// already queued still hold caller WaitGroup slots. Run them
			// here with the dead context so every submitted task completes
			// and no join blocks forever.
			e.drainUntilStopped(ctx)
			return
		case <-e.quit:
			e.sweep(ctx)
			return
		case <-ticker.C:
			target := e.target()
			current := e.activeCount()

			if current < target {
				spawn := target - current
				for i := 0; i < spawn; i++ {
					e.wg.Add(1)
					go e.worker(ctx)
				}
			}
			// Excess workers exit on their own after finishing a task.
		}
	}
}

// drainUntilStopped consumes queued tasks after cancellation, executing each
// with the cancelled context, until Stop closes the quit channel. Tasks that
// raced past Submit's rejection check are covered by the final sweep.
func (e *Engine) drainUntilStopped(ctx context.Context) {
	for {
		select {
		case task := <-e.tasks:
			task(ctx)
		case <-e.quit:
			e.sweep(ctx)
			return
		}
	}
}

// sweep runs whatever is left in the queue without blocking.
func (e *Engine) sweep(ctx context.Context) {
	for {
		select {
		case task := <-e.tasks:
			task(ctx)
		default:
			return
		}
	}
}

func (e *Engine) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) worker(ctx context.Context) {
	e.mu.Lock()
	e.active++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
		e.wg.Done()
	}()

	for {
		if e.activeCount() > e.target() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-e.quit:
			return
		case task := <-e.tasks:
			start := time.Now()
			err := task(ctx)
			latency := time.Since(start)

			isThrottled := err != nil && e.Throttled != nil && e.Throttled(err)
			e.aimd.Feedback(latency, isThrottled)

			e.mu.Lock()
			e.stats.TasksCompleted++
			e.mu.Unlock()
		}
	}
}
