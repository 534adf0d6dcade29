// Package supervisor provides structured ownership of the bridge's
// long-running goroutines. All loops (send, receive, watchdog,
// consumers) are started through one Supervisor so that cancellation
// and shutdown joining are coordinated instead of fire-and-forget.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beamctl/filterbridge/pkg/log"
)

// Supervisor errors.
var (
	ErrAlreadyStarted  = errors.New("supervisor: already started")
	ErrNotStarted      = errors.New("supervisor: not started")
	ErrShutdownTimeout = errors.New("supervisor: shutdown timeout")

	// ErrDraining is returned by Start while workers abandoned by a
	// timed-out Wait have not yet exited.
	ErrDraining = errors.New("supervisor: abandoned workers still draining")
)

// DefaultShutdownTimeout is the default maximum time to wait for
// graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// State represents the supervisor lifecycle state.
type State int

// Lifecycle states.
const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Supervisor owns a set of named workers sharing one cancellable
// context.
type Supervisor struct {
	mu       sync.Mutex
	state    State
	draining bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   log.Logger
}

// New creates a stopped supervisor.
func New(logger log.Logger) *Supervisor {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Supervisor{state: StateStopped, logger: logger}
}

// Start derives the shared worker context from parent and transitions
// to Running. Returns ErrAlreadyStarted if called twice without an
// intervening Stop/Wait cycle.
func (s *Supervisor) Start(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return nil, ErrAlreadyStarted
	}
	if s.draining {
		return nil, ErrDraining
	}

	s.ctx, s.cancel = context.WithCancel(parent)
	s.state = StateRunning
	s.logger.Info("supervisor started")
	return s.ctx, nil
}

// Go launches fn as a named worker on the shared context. It is an
// error to call Go before Start; the worker is dropped with a log line
// rather than panicking.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		s.logger.Error("worker launched on stopped supervisor", log.String("worker", name))
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.logger.Debug("worker started", log.String("worker", name))
		fn(ctx)
		s.logger.Debug("worker finished", log.String("worker", name))
	}()
}

// Stop cancels the shared context, signalling all workers to exit.
// Reentrant.
func (s *Supervisor) Stop(reason string) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("supervisor stopping", log.String("reason", reason))
	cancel()
}

// Wait blocks until all workers have exited or the timeout expires.
// On return the supervisor is Stopped. After a timeout the abandoned
// workers keep draining in the background and Start returns
// ErrDraining until the last one has exited, so a restart can never
// interleave with stragglers.
func (s *Supervisor) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout, abandoning workers", log.Duration("timeout", timeout))
		err = ErrShutdownTimeout
	}

	s.mu.Lock()
	s.state = StateStopped
	if err != nil {
		s.draining = true
		go func() {
			<-done
			s.mu.Lock()
			s.draining = false
			s.mu.Unlock()
			s.logger.Info("abandoned workers drained")
		}()
	}
	s.mu.Unlock()
	return err
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
