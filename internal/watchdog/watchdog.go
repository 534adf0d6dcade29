// Package watchdog infers device liveness on a transport that exposes
// no native connection event. It issues periodic status probes over the
// control channel and reads connectivity from reply arrival: the
// control channel carries at most one outstanding request and no
// message correlation, so an unanswered probe is interpreted as an
// unreachable peer rather than a pending reply.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/internal/wire"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Default probe cadence.
const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultRetryInterval = 5 * time.Millisecond
)

// Sender enqueues a command on the control channel. Satisfied by
// *transport.Adapter.
type Sender interface {
	Enqueue(cmd []byte)
}

// ConnState is the connectivity state derived from probe traffic.
type ConnState struct {
	Connected     bool
	AwaitingReply bool
}

// Config holds watchdog timing configuration.
type Config struct {
	// PollInterval is the probe period while connected.
	PollInterval time.Duration

	// RetryInterval is the re-probe period while disconnected. It is
	// deliberately small (a busy retry) but non-zero so sibling
	// goroutines are never starved.
	RetryInterval time.Duration
}

// Watchdog runs the probe loop and owns the connectivity state. Only
// the watchdog mutates the state; callers read it through Connected
// and State.
type Watchdog struct {
	cfg     Config
	sender  Sender
	logger  log.Logger
	metrics *metric.Metrics

	mu        sync.Mutex
	connected bool
	awaiting  bool
	replySeen bool
}

// New creates a watchdog probing through sender. Metrics may be nil.
func New(cfg Config, sender Sender, logger log.Logger, metrics *metric.Metrics) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watchdog{cfg: cfg, sender: sender, logger: logger, metrics: metrics}
}

// Run executes the probe loop until the context is cancelled. While
// connected it probes every PollInterval; after a missed reply it
// marks the device disconnected and re-probes on the tight
// RetryInterval until a reply arrives.
func (w *Watchdog) Run(ctx context.Context) {
	for {
		w.issueProbe()

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval()):
		}

		if w.takeReply() {
			w.setConnected(true)
			continue
		}

		// The probe went unanswered for a full poll period.
		w.setConnected(false)
		if w.metrics != nil {
			w.metrics.ProbeMisses.Inc()
		}

		for !w.takeReply() {
			w.issueProbe()
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.RetryInterval):
			}
		}
		w.setConnected(true)
	}
}

// SetPollInterval changes the probe period while connected. Applied on
// the next loop iteration. Non-positive values are ignored.
func (w *Watchdog) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	changed := w.cfg.PollInterval != d
	w.cfg.PollInterval = d
	w.mu.Unlock()
	if changed {
		w.logger.Info("probe interval updated", log.Duration("poll_interval", d))
	}
}

// pollInterval reads the current probe period.
func (w *Watchdog) pollInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.PollInterval
}

// ReplyReceived records that a control-channel status reply arrived.
// Called by the reply consumer; the probe loop picks it up on its next
// check.
func (w *Watchdog) ReplyReceived() {
	w.mu.Lock()
	w.replySeen = true
	w.awaiting = false
	w.mu.Unlock()
}

// Connected reports the inferred device connectivity.
func (w *Watchdog) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// State returns the full connectivity state.
func (w *Watchdog) State() ConnState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ConnState{Connected: w.connected, AwaitingReply: w.awaiting}
}

// issueProbe enqueues a status request. Probes bypass the command gate:
// they are the mechanism that re-establishes the connected state.
func (w *Watchdog) issueProbe() {
	w.mu.Lock()
	w.awaiting = true
	w.mu.Unlock()

	w.sender.Enqueue(wire.StatusCommand())
	if w.metrics != nil {
		w.metrics.ProbesSent.Inc()
	}
}

// takeReply consumes the reply-seen flag.
func (w *Watchdog) takeReply() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	seen := w.replySeen
	w.replySeen = false
	return seen
}

// setConnected updates the connectivity flag, logging transitions.
func (w *Watchdog) setConnected(connected bool) {
	w.mu.Lock()
	changed := w.connected != connected
	w.connected = connected
	w.mu.Unlock()

	if w.metrics != nil {
		if connected {
			w.metrics.Connected.Set(1)
		} else {
			w.metrics.Connected.Set(0)
		}
	}
	if changed {
		if connected {
			w.logger.Info("device connected")
		} else {
			w.logger.Warn("device disconnected, probing until reply")
		}
	}
}
