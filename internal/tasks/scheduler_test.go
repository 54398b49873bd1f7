package tasks

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/crate/internal/shared"
)

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel")
	}
}

func TestScheduler(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("keeps the existing task for a key", func(t *testing.T) {
		s := NewScheduler(2, 0, logger)
		defer s.Shutdown()

		started := make(chan struct{})
		var runs atomic.Int32
		block := func(ctx context.Context) {
			runs.Add(1)
			close(started)
			<-ctx.Done()
		}

		if !s.Enqueue("a", block) {
			t.Fatal("first enqueue should schedule")
		}
		waitClosed(t, started)

		if s.Enqueue("a", func(context.Context) { runs.Add(1) }) {
			t.Error("second enqueue for the same key should be rejected")
		}
		if !s.Running("a") {
			t.Error("expected a to be running")
		}

		waitClosed(t, s.Cancel("a"))
		if s.Running("a") {
			t.Error("expected a to be gone after cancel")
		}
		if got := runs.Load(); got != 1 {
			t.Errorf("expected 1 run, got %d", got)
		}

		done := make(chan struct{})
		if !s.Enqueue("a", func(context.Context) { close(done) }) {
			t.Fatal("enqueue after completion should schedule")
		}
		waitClosed(t, done)
	})

	t.Run("limits concurrency to worker slots", func(t *testing.T) {
		s := NewScheduler(1, 0, logger)
		defer s.Shutdown()

		release := make(chan struct{})
		firstStarted := make(chan struct{})
		secondStarted := make(chan struct{})

		s.Enqueue("first", func(context.Context) {
			close(firstStarted)
			<-release
		})
		waitClosed(t, firstStarted)

		s.Enqueue("second", func(context.Context) { close(secondStarted) })

		select {
		case <-secondStarted:
			t.Fatal("second task started while the only slot was busy")
		case <-time.After(50 * time.Millisecond):
		}

		if keys := s.Keys(); len(keys) != 2 {
			t.Errorf("expected 2 queued keys, got %v", keys)
		}

		close(release)
		waitClosed(t, secondStarted)
	})

	t.Run("cancelling a queued task skips it", func(t *testing.T) {
		s := NewScheduler(1, 0, logger)
		defer s.Shutdown()

		release := make(chan struct{})
		started := make(chan struct{})
		s.Enqueue("busy", func(context.Context) {
			close(started)
			<-release
		})
		waitClosed(t, started)

		var ran atomic.Bool
		s.Enqueue("queued", func(context.Context) { ran.Store(true) })
		waitClosed(t, s.Cancel("queued"))
		close(release)
		waitClosed(t, s.Cancel("busy"))

		if ran.Load() {
			t.Error("cancelled queued task should not run")
		}
	})

	t.Run("cancel of unknown key returns a closed channel", func(t *testing.T) {
		s := NewScheduler(1, 0, logger)
		defer s.Shutdown()
		waitClosed(t, s.Cancel("missing"))
	})

	t.Run("recovers from panics", func(t *testing.T) {
		s := NewScheduler(1, 0, logger)
		defer s.Shutdown()

		s.Enqueue("boom", func(context.Context) { panic("boom") })
		deadline := time.Now().Add(5 * time.Second)
		for s.Running("boom") && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if s.Running("boom") {
			t.Fatal("panicking task never finished")
		}

		ok := make(chan struct{})
		s.Enqueue("after", func(context.Context) { close(ok) })
		waitClosed(t, ok)
	})

	t.Run("cancel all waits for every task", func(t *testing.T) {
		s := NewScheduler(3, 0, logger)
		defer s.Shutdown()

		var exited atomic.Int32
		for _, key := range []string{"a", "b", "c"} {
			s.Enqueue(key, func(ctx context.Context) {
				<-ctx.Done()
				exited.Add(1)
			})
		}

		s.CancelAll()
		if got := exited.Load(); got != 3 {
			t.Errorf("expected 3 exited tasks, got %d", got)
		}
		if keys := s.Keys(); len(keys) != 0 {
			t.Errorf("expected no keys, got %v", keys)
		}
	})

	t.Run("shutdown rejects new work", func(t *testing.T) {
		s := NewScheduler(1, 0, logger)

		stopped := make(chan struct{})
		s.Enqueue("a", func(ctx context.Context) {
			<-ctx.Done()
			close(stopped)
		})
		s.Shutdown()
		waitClosed(t, stopped)

		if s.Enqueue("b", func(context.Context) {}) {
			t.Error("enqueue after shutdown should be rejected")
		}
	})
}
