// Package bridge wires the transport channels, the connectivity
// watchdog and the frame recorder into one component. It consumes both
// inbound streams, keeps the last known controller status, applies the
// automatic file-close policy, and exposes the command and file
// surface the process-control layer drives.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/internal/recorder"
	"github.com/beamctl/filterbridge/internal/supervisor"
	"github.com/beamctl/filterbridge/internal/watchdog"
	"github.com/beamctl/filterbridge/internal/wire"
	"github.com/beamctl/filterbridge/pkg/log"
)

// fanoutDepth bounds the decoded status/event queues handed to the
// process-control layer. A slow consumer loses the oldest entries, not
// the newest.
const fanoutDepth = 64

// Channel is the transport surface the bridge drives. Satisfied by
// *transport.Adapter.
type Channel interface {
	Enqueue(cmd []byte)
	Receive(ctx context.Context) ([]byte, error)
	Run(ctx context.Context) error
	Close()
}

// Config holds bridge timing configuration.
type Config struct {
	// PollInterval is the watchdog probe period.
	PollInterval time.Duration

	// RetryInterval is the watchdog re-probe period while disconnected.
	RetryInterval time.Duration

	// FrameTimeout is the device-reported idle time after which an open
	// dataset file closes automatically.
	FrameTimeout time.Duration

	// ShutdownTimeout bounds the join of worker goroutines on stop.
	ShutdownTimeout time.Duration
}

// Bridge owns the control and event channels, the watchdog, the
// command gate and the recorder.
type Bridge struct {
	cfg     Config
	logger  log.Logger
	metrics *metric.Metrics

	sup     *supervisor.Supervisor
	control Channel
	event   Channel
	wd      *watchdog.Watchdog
	gate    *watchdog.Gate
	rec     *recorder.Recorder

	statusCh chan wire.StatusReply
	eventCh  chan wire.FrameEvent

	mu           sync.Mutex
	frameTimeout time.Duration
	lastStatus   wire.StatusReply
	statusSeen   bool
}

// New creates a bridge over the given channels. The adapters must have
// been constructed on the same supervisor. Metrics may be nil.
func New(
	cfg Config,
	control Channel,
	event Channel,
	rec *recorder.Recorder,
	sup *supervisor.Supervisor,
	logger log.Logger,
	metrics *metric.Metrics,
) *Bridge {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	wd := watchdog.New(watchdog.Config{
		PollInterval:  cfg.PollInterval,
		RetryInterval: cfg.RetryInterval,
	}, control, logger, metrics)

	return &Bridge{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		sup:          sup,
		control:      control,
		event:        event,
		wd:           wd,
		gate:         watchdog.NewGate(wd, control, logger, metrics),
		rec:          rec,
		statusCh:     make(chan wire.StatusReply, fanoutDepth),
		eventCh:      make(chan wire.FrameEvent, fanoutDepth),
		frameTimeout: cfg.FrameTimeout,
	}
}

// Run starts the channels, the watchdog and both consumer loops, then
// blocks until the context is cancelled or Stop is called. On the way
// out it closes the recorder first, then both channels, and joins the
// workers within the shutdown timeout.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, err := b.sup.Start(ctx)
	if err != nil {
		return err
	}

	if err := b.control.Run(runCtx); err != nil {
		b.sup.Stop("control channel start failed")
		return err
	}
	if err := b.event.Run(runCtx); err != nil {
		b.sup.Stop("event channel start failed")
		return err
	}

	b.sup.Go("watchdog", b.wd.Run)
	b.sup.Go("control-consumer", b.consumeControl)
	b.sup.Go("event-consumer", b.consumeEvent)

	b.logger.Info("bridge running")
	<-runCtx.Done()

	b.rec.Close()
	b.control.Close()
	b.event.Close()

	if err := b.sup.Wait(b.cfg.ShutdownTimeout); err != nil {
		b.logger.Error("worker join timed out", log.Err(err))
		return err
	}
	b.logger.Info("bridge stopped")
	return nil
}

// Stop requests shutdown. Run unblocks and performs the teardown.
func (b *Bridge) Stop(reason string) {
	b.sup.Stop(reason)
}

// consumeControl drains the control channel: status replies feed the
// watchdog, the last-status cache and the auto-close policy; acks are
// logged; anything else is dropped with a log line.
func (b *Bridge) consumeControl(ctx context.Context) {
	for {
		payload, err := b.control.Receive(ctx)
		if err != nil {
			return
		}

		msg, err := wire.Decode(payload)
		if err != nil {
			b.logger.Warn("control payload dropped", log.Err(err))
			continue
		}

		switch m := msg.(type) {
		case wire.StatusReply:
			b.wd.ReplyReceived()
			b.storeStatus(m)
			b.maybeAutoClose(m)
			b.offerStatus(m)
		case wire.Ack:
			if m.Success {
				b.logger.Debug("command acknowledged")
			} else {
				b.logger.Warn("command rejected by controller")
			}
		default:
			b.logger.Warn("unexpected message on control channel")
		}
	}
}

// consumeEvent drains the event channel and records each frame. Frames
// arriving with no open file are logged and lost, matching the
// controller's fire-and-forget publish.
func (b *Bridge) consumeEvent(ctx context.Context) {
	for {
		payload, err := b.event.Receive(ctx)
		if err != nil {
			return
		}

		msg, err := wire.Decode(payload)
		if err != nil {
			b.logger.Warn("event payload dropped", log.Err(err))
			continue
		}

		frame, ok := msg.(wire.FrameEvent)
		if !ok {
			b.logger.Warn("unexpected message on event channel")
			continue
		}

		err = b.rec.Write(frame.FrameNumber, recorder.Record{
			Adjustment:    frame.Adjustment,
			Attenuation:   frame.Attenuation,
			UID:           frame.UID,
			FiltersMoving: frame.FiltersMoving,
		})
		switch {
		case errors.Is(err, recorder.ErrNotOpen):
			b.logger.Warn("frame received with no open file",
				log.Int64("frame", frame.FrameNumber),
			)
		case err != nil:
			b.logger.Error("frame write failed",
				log.Int64("frame", frame.FrameNumber),
				log.Err(err),
			)
		}

		b.offerEvent(frame)
	}
}

// storeStatus caches the most recent status reply.
func (b *Bridge) storeStatus(s wire.StatusReply) {
	b.mu.Lock()
	b.lastStatus = s
	b.statusSeen = true
	b.mu.Unlock()
}

// maybeAutoClose closes the open file once the controller reports no
// frame traffic for longer than the frame timeout. Requires that at
// least one frame was received, so an armed-but-idle acquisition never
// closes its file.
func (b *Bridge) maybeAutoClose(s wire.StatusReply) {
	if !b.rec.IsOpen() {
		return
	}
	timeout := b.FrameTimeout()
	if timeout <= 0 {
		return
	}
	if s.TimeSinceLastMessage > timeout.Seconds() && s.LastReceivedFrame > 0 {
		b.logger.Info("closing file after frame timeout",
			log.Float64("idle_seconds", s.TimeSinceLastMessage),
			log.Int64("last_received_frame", s.LastReceivedFrame),
		)
		b.rec.Close()
	}
}

// offerStatus queues a decoded status for ReceiveStatus, discarding the
// oldest entry when the consumer lags.
func (b *Bridge) offerStatus(s wire.StatusReply) {
	for {
		select {
		case b.statusCh <- s:
			return
		default:
		}
		select {
		case <-b.statusCh:
			b.logger.Debug("status fan-out full, oldest entry dropped")
		default:
		}
	}
}

// offerEvent queues a decoded frame for ReceiveEvent, discarding the
// oldest entry when the consumer lags.
func (b *Bridge) offerEvent(e wire.FrameEvent) {
	for {
		select {
		case b.eventCh <- e:
			return
		default:
		}
		select {
		case <-b.eventCh:
			b.logger.Debug("event fan-out full, oldest entry dropped")
		default:
		}
	}
}

// ReceiveStatus blocks until the next decoded status reply.
func (b *Bridge) ReceiveStatus(ctx context.Context) (wire.StatusReply, error) {
	select {
	case <-ctx.Done():
		return wire.StatusReply{}, ctx.Err()
	case s := <-b.statusCh:
		return s, nil
	}
}

// ReceiveEvent blocks until the next decoded frame event.
func (b *Bridge) ReceiveEvent(ctx context.Context) (wire.FrameEvent, error) {
	select {
	case <-ctx.Done():
		return wire.FrameEvent{}, ctx.Err()
	case e := <-b.eventCh:
		return e, nil
	}
}

// Enqueue sends a raw command through the gate. Returns false, with the
// command dropped, while the device is disconnected.
func (b *Bridge) Enqueue(cmd []byte) bool {
	return b.gate.TrySend(cmd)
}

// Configure sends a configure command with the given parameters.
func (b *Bridge) Configure(params map[string]interface{}) bool {
	return b.gate.TrySend(wire.ConfigureCommand(params))
}

// Reset sends the reset command.
func (b *Bridge) Reset() bool {
	return b.gate.TrySend(wire.ResetCommand())
}

// ClearError sends the clear_error command.
func (b *Bridge) ClearError() bool {
	return b.gate.TrySend(wire.ClearErrorCommand())
}

// Singleshot arms a single-shot acquisition.
func (b *Bridge) Singleshot() bool {
	return b.gate.TrySend(wire.SingleshotCommand())
}

// Shutdown asks the controller process to exit.
func (b *Bridge) Shutdown() bool {
	return b.gate.TrySend(wire.ShutdownCommand())
}

// SetMode switches the controller operating mode.
func (b *Bridge) SetMode(mode int) bool {
	return b.Configure(map[string]interface{}{"mode": mode})
}

// SetAttenuation sets the filter attenuation level directly.
func (b *Bridge) SetAttenuation(level int64) bool {
	return b.Configure(map[string]interface{}{"attenuation": level})
}

// SetTimeout updates the frame timeout. The local auto-close policy
// picks the value up immediately; the controller-side update is gated
// like any other command.
func (b *Bridge) SetTimeout(d time.Duration) bool {
	b.mu.Lock()
	b.frameTimeout = d
	b.mu.Unlock()
	return b.Configure(map[string]interface{}{"timeout": d.Seconds()})
}

// FrameTimeout returns the current auto-close timeout.
func (b *Bridge) FrameTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameTimeout
}

// ApplyTimings applies reloaded timing configuration: the frame
// timeout for auto-close and the watchdog probe period. Non-positive
// values leave the current setting in place.
func (b *Bridge) ApplyTimings(frameTimeout, pollInterval time.Duration) {
	if frameTimeout > 0 {
		b.mu.Lock()
		b.frameTimeout = frameTimeout
		b.mu.Unlock()
	}
	b.wd.SetPollInterval(pollInterval)
}

// SetTargetPath sets the path the next Open creates.
func (b *Bridge) SetTargetPath(path string) bool {
	return b.rec.SetTargetPath(path)
}

// OpenFile opens the dataset file at the configured target path.
func (b *Bridge) OpenFile() bool {
	return b.rec.Open()
}

// CloseFile flushes and closes the dataset file. No-op when closed.
func (b *Bridge) CloseFile() {
	b.rec.Close()
}

// FileOpen reports whether a dataset file is currently open.
func (b *Bridge) FileOpen() bool {
	return b.rec.IsOpen()
}

// Connected reports the watchdog's inferred device connectivity.
func (b *Bridge) Connected() bool {
	return b.wd.Connected()
}

// LastStatus returns the most recent status reply, if any arrived.
func (b *Bridge) LastStatus() (wire.StatusReply, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStatus, b.statusSeen
}
