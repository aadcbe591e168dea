package assessment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrSupervisorClosed is returned by Go after Shutdown has begun.
var ErrSupervisorClosed = errors.New("supervisor is shutting down")

// Supervisor tracks background work that outlives the request that started it.
// Shutdown waits for it up to a deadline; work still running then is abandoned.
type Supervisor struct {
	mu       sync.Mutex
	group    errgroup.Group
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	inflight atomic.Int64
	logger   *slog.Logger
}

// NewSupervisor creates a supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, logger: logger}
}

// Go runs fn in the background with a context cancelled only by Shutdown.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("Background task rejected during shutdown", "task", name)
		return ErrSupervisorClosed
	}

	s.inflight.Add(1)
	s.group.Go(func() error {
		defer s.inflight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Background task panicked", "task", name, "panic", r)
			}
		}()
		fn(s.ctx)
		return nil
	})
	return nil
}

// Inflight returns the number of running tasks.
func (s *Supervisor) Inflight() int64 {
	return s.inflight.Load()
}

// Shutdown stops accepting work and waits for running tasks until timeout.
// On timeout it cancels their context and returns context.DeadlineExceeded.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Background tasks drained")
		return nil
	case <-timer.C:
		abandoned := s.inflight.Load()
		s.cancel()
		s.logger.Warn("Shutdown deadline reached, abandoning background tasks", "abandoned", abandoned)
		return context.DeadlineExceeded
	}
}
