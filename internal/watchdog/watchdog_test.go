package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beamctl/filterbridge/pkg/log"
)

// captureSender records enqueued commands.
type captureSender struct {
	mu   sync.Mutex
	cmds [][]byte
}

func (c *captureSender) Enqueue(cmd []byte) {
	c.mu.Lock()
	c.cmds = append(c.cmds, cmd)
	c.mu.Unlock()
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cmds)
}

func testConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, RetryInterval: time.Millisecond}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartsDisconnectedAndProbes(t *testing.T) {
	sender := &captureSender{}
	w := New(testConfig(), sender, log.NewNoopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, time.Second, func() bool { return sender.count() >= 1 }, "no probe issued")

	if w.Connected() {
		t.Fatal("connected without any reply")
	}
	if st := w.State(); !st.AwaitingReply {
		t.Fatal("awaiting flag not set after probe")
	}
}

func TestConnectsOnReply(t *testing.T) {
	sender := &captureSender{}
	w := New(testConfig(), sender, log.NewNoopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, time.Second, func() bool { return sender.count() >= 1 }, "no probe issued")
	w.ReplyReceived()

	waitFor(t, time.Second, w.Connected, "did not connect after reply")
}

func TestDisconnectsOnMissedReply(t *testing.T) {
	sender := &captureSender{}
	w := New(testConfig(), sender, log.NewNoopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Answer the first probe to get connected.
	waitFor(t, time.Second, func() bool { return sender.count() >= 1 }, "no probe issued")
	w.ReplyReceived()
	waitFor(t, time.Second, w.Connected, "did not connect")

	// Stop answering; within one poll interval the watchdog must flip
	// to disconnected and start the tight retry.
	waitFor(t, time.Second, func() bool { return !w.Connected() }, "did not disconnect on missed reply")

	before := sender.count()
	waitFor(t, time.Second, func() bool { return sender.count() > before+2 },
		"no tight re-probing while disconnected")

	// A late reply reconnects.
	w.ReplyReceived()
	waitFor(t, time.Second, w.Connected, "did not reconnect after late reply")
}

func TestRunStopsOnCancel(t *testing.T) {
	sender := &captureSender{}
	w := New(testConfig(), sender, log.NewNoopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestDefaultsApplied(t *testing.T) {
	w := New(Config{}, &captureSender{}, nil, nil)
	if w.cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("PollInterval = %v, want %v", w.cfg.PollInterval, DefaultPollInterval)
	}
	if w.cfg.RetryInterval != DefaultRetryInterval {
		t.Fatalf("RetryInterval = %v, want %v", w.cfg.RetryInterval, DefaultRetryInterval)
	}
}
