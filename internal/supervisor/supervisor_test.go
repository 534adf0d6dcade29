package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beamctl/filterbridge/pkg/log"
)

func TestStartStopWait(t *testing.T) {
	s := New(log.NewNoopLogger())

	ctx, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want Running", s.State())
	}

	var exited atomic.Bool
	s.Go("worker", func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	})

	s.Stop("test shutdown")
	if err := s.Wait(time.Second); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !exited.Load() {
		t.Fatal("worker did not observe cancellation")
	}
	if ctx.Err() == nil {
		t.Fatal("shared context not cancelled")
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want Stopped", s.State())
	}
}

func TestDoubleStart(t *testing.T) {
	s := New(nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	s.Stop("cleanup")
	_ = s.Wait(time.Second)
}

func TestStopIsReentrant(t *testing.T) {
	s := New(nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop("first")
	s.Stop("second")
	if err := s.Wait(time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	s := New(nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	s.Go("stubborn", func(ctx context.Context) {
		<-release
	})

	s.Stop("test")
	if err := s.Wait(20 * time.Millisecond); err != ErrShutdownTimeout {
		t.Fatalf("Wait = %v, want ErrShutdownTimeout", err)
	}
	close(release)
}

func TestRestartRefusedWhileAbandonedWorkersDrain(t *testing.T) {
	s := New(nil)
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	s.Go("stubborn", func(ctx context.Context) {
		<-release
	})

	s.Stop("test")
	if err := s.Wait(20 * time.Millisecond); err != ErrShutdownTimeout {
		t.Fatalf("Wait = %v, want ErrShutdownTimeout", err)
	}

	if _, err := s.Start(context.Background()); err != ErrDraining {
		t.Fatalf("Start during drain = %v, want ErrDraining", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := s.Start(context.Background()); err == nil {
			break
		} else if err != ErrDraining {
			t.Fatalf("Start after drain = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("Start still refused after workers exited")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGoBeforeStartIsDropped(t *testing.T) {
	s := New(nil)
	ran := make(chan struct{}, 1)
	s.Go("early", func(ctx context.Context) {
		ran <- struct{}{}
	})

	select {
	case <-ran:
		t.Fatal("worker ran before Start")
	case <-time.After(20 * time.Millisecond):
	}
}
