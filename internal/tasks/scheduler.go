package tasks

import (
	"context"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/time/rate"
)

// WorkFunc is a unit of background work. It must return promptly once ctx is done.
type WorkFunc func(ctx context.Context)

// Scheduler runs keyed background work with at most one task per key.
//
// Enqueueing a key that already has a task keeps the existing one. At most workers tasks run at once
// and task starts are spaced by a token-bucket limiter.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	slots   chan struct{}
	limiter *rate.Limiter
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	logger  *log.Logger
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler. workers is clamped to [1, 10]; a non-positive ratePerSec disables the limiter.
func NewScheduler(workers int, ratePerSec float64, logger *log.Logger) *Scheduler {
	if workers <= 0 {
		workers = 3
	}
	workers = min(workers, 10)

	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}

	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:   make(map[string]*task),
		slots:   make(chan struct{}, workers),
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		stop:    stop,
		logger:  shared.WithLogger(logger, "component", "scheduler"),
	}
}

// Enqueue starts fn under key unless a task for key is already queued or running. Reports whether fn was scheduled.
func (s *Scheduler) Enqueue(key string, fn WorkFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if _, ok := s.tasks[key]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[key] = t

	s.wg.Add(1)
	go s.run(ctx, key, t, fn)
	return true
}

func (s *Scheduler) run(ctx context.Context, key string, t *task, fn WorkFunc) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.release(key, t)
	defer t.cancel()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.slots }()

	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "key", key, "panic", r)
		}
	}()

	fn(ctx)
}

func (s *Scheduler) release(key string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[key] == t {
		delete(s.tasks, key)
	}
}

// Cancel stops the task for key and returns a channel closed once it has exited.
// With no task for key the returned channel is already closed.
func (s *Scheduler) Cancel(key string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	t.cancel()
	return t.done
}

// Running reports whether a task for key is queued or running.
func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Keys lists keys with a queued or running task, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// CancelAll stops every task and waits for them to exit. The scheduler stays usable.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	pending := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.cancel()
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, t := range pending {
		<-t.done
	}
}

// Shutdown stops every task, waits for them and rejects further work.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}
