// ABOUTME: Shared worker pool running one-shot and fixed-rate tasks for every attache.
// ABOUTME: Concurrency is bounded by a weighted semaphore; task panics never escape.

package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when work is offered after Shutdown.
var ErrPoolClosed = errors.New("worker pool closed")

// Handle controls a fixed-rate schedule.
type Handle interface {
	// Cancel prevents future runs. A run already in progress finishes normally.
	// It returns true only for the call that actually cancelled the schedule.
	Cancel() bool
	Cancelled() bool
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int64 `json:"active"`
	Scheduled int64 `json:"scheduled"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
}

// Pool executes tasks on at most Workers goroutines at a time.
type Pool struct {
	workers int
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	scheduled atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
}

// New creates a pool. workers below 1 is treated as 1.
func New(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Submit queues task for a single execution.
func (p *Pool) Submit(task func()) error {
	if !p.begin() {
		return ErrPoolClosed
	}
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.logger.Debug("dropping queued task, pool shutting down")
			return
		}
		defer p.sem.Release(1)
		p.run(task)
	}()
	return nil
}

// ScheduleAtFixedRate runs task after initialDelay and then every period.
// Runs of one schedule never overlap; if a run overruns, missed ticks are skipped.
func (p *Pool) ScheduleAtFixedRate(task func(), initialDelay, period time.Duration) (Handle, error) {
	if period <= 0 {
		return nil, fmt.Errorf("schedule period must be positive, got %v", period)
	}
	if initialDelay < 0 {
		initialDelay = 0
	}
	if !p.begin() {
		return nil, ErrPoolClosed
	}

	s := &schedule{stop: make(chan struct{}), period: period}
	p.scheduled.Add(1)
	go p.loop(s, task, initialDelay)
	return s, nil
}

func (p *Pool) loop(s *schedule, task func(), initialDelay time.Duration) {
	defer p.wg.Done()
	defer p.scheduled.Add(-1)

	next := time.Now().Add(initialDelay)
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-p.ctx.Done():
			return
		case <-timer.C:
		}

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		// Cancel may have landed while we waited for a worker.
		if s.Cancelled() {
			p.sem.Release(1)
			return
		}
		p.run(task)
		p.sem.Release(1)

		now := time.Now()
		next = next.Add(s.period)
		if next.Before(now) {
			skipped := now.Sub(next)/s.period + 1
			next = next.Add(skipped * s.period)
		}
		timer.Reset(next.Sub(now))
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("pool task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}

// begin registers a unit of work unless the pool is closed. Holding mu keeps
// wg.Add from racing with the wg.Wait in Shutdown.
func (p *Pool) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

// Shutdown cancels every schedule, drops queued work, and waits for running
// tasks until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pool tasks: %w", ctx.Err())
	}
}

// Stats reports current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Active:    p.active.Load(),
		Scheduled: p.scheduled.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

type schedule struct {
	stop   chan struct{}
	once   sync.Once
	period time.Duration
}

func (s *schedule) Cancel() bool {
	first := false
	s.once.Do(func() {
		close(s.stop)
		first = true
	})
	return first
}

func (s *schedule) Cancelled() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
