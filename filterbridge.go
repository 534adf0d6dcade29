// Package filterbridge connects a process-control layer to a fast
// attenuation filter controller. It keeps a request/reply control
// channel and a subscribe event channel alive across reconnects,
// infers device liveness from status replies, and records per-frame
// attenuation data into a growable on-disk dataset file.
//
// Example usage:
//
//	cfg := filterbridge.DefaultConfig()
//	cfg.DataDir = "/data/beamline"
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	b, err := filterbridge.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
//	b.OpenFile()
//	b.SetAttenuation(7)
package filterbridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beamctl/filterbridge/internal/bridge"
	"github.com/beamctl/filterbridge/internal/cliconfig"
	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/internal/recorder"
	"github.com/beamctl/filterbridge/internal/supervisor"
	"github.com/beamctl/filterbridge/internal/transport"
	"github.com/beamctl/filterbridge/internal/watchdog"
	"github.com/beamctl/filterbridge/internal/wire"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Config holds the bridge configuration. Use DefaultConfig() for
// sensible defaults.
type Config = cliconfig.Config

// StatusReply is the decoded controller status, delivered through
// ReceiveStatus and LastStatus.
type StatusReply = wire.StatusReply

// FrameEvent is one decoded per-frame notification, delivered through
// ReceiveEvent.
type FrameEvent = wire.FrameEvent

// Controller operating modes for SetMode.
const (
	ModeManual     = wire.ModeManual
	ModeContinuous = wire.ModeContinuous
	ModeSingleshot = wire.ModeSingleshot
)

// Default broker endpoint and channel subjects.
const (
	DefaultBrokerURL      = cliconfig.DefaultBrokerURL
	DefaultControlSubject = cliconfig.DefaultControlSubject
	DefaultEventSubject   = cliconfig.DefaultEventSubject
)

// ErrAlreadyStarted is returned by Start on a running bridge.
var ErrAlreadyStarted = errors.New("filterbridge: already started")

// DefaultConfig returns a Config with default values. At minimum, set
// DataDir before calling New.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Bridge is the embeddable integration layer. Create one with New,
// then Start it; the command and file methods are safe to call from
// any goroutine while it runs.
type Bridge struct {
	cfg    Config
	opts   options
	logger log.Logger

	metrics  *metric.Metrics
	registry *prometheus.Registry
	inner    *bridge.Bridge

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan error
}

// New creates a Bridge from the given configuration. The configuration
// is validated; the broker is not contacted until Start.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	metrics := metric.New()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, err
	}

	sup := supervisor.New(logger)
	control := transport.NewAdapter(
		"control",
		transport.RequestReply,
		transport.ControlDialer(cfg.BrokerURL, cfg.ControlSubject, logger),
		sup, logger, metrics,
	)
	event := transport.NewAdapter(
		"event",
		transport.Subscribe,
		transport.EventDialer(cfg.BrokerURL, cfg.EventSubject, logger),
		sup, logger, metrics,
	)
	rec := recorder.New(logger, metrics)

	inner := bridge.New(bridge.Config{
		PollInterval:    cfg.PollInterval,
		RetryInterval:   cfg.RetryInterval,
		FrameTimeout:    cfg.FrameTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, control, event, rec, sup, logger, metrics)

	inner.SetTargetPath(cfg.TargetPath())

	return &Bridge{
		cfg:      cfg,
		opts:     o,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		inner:    inner,
	}, nil
}

// Start initializes the plugins and begins running the bridge in the
// background. Returns ErrAlreadyStarted on a running bridge.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)

	pluginCfg := PluginConfig{
		ConfigPath: b.opts.configPath,
		Current:    b.cfg,
		Logger:     b.logger,
		Apply:      b.applyConfig,
	}
	for _, p := range b.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			b.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()), log.Err(err))
			cancel()
			return err
		}
		b.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	b.started = true
	b.cancel = cancel
	b.done = make(chan error, 1)
	go func() { b.done <- b.inner.Run(runCtx) }()
	return nil
}

// Stop shuts the bridge down: the recorder flushes and closes, both
// channels release their connections, plugins stop. Safe to call on a
// stopped bridge.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	b.cancel()
	err := <-b.done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownTimeout)
	defer cancel()
	for i := len(b.opts.plugins) - 1; i >= 0; i-- {
		p := b.opts.plugins[i]
		if perr := p.Shutdown(shutdownCtx); perr != nil {
			b.logger.Warn("plugin shutdown failed",
				log.String("plugin", p.Name()), log.Err(perr))
		}
	}
	return err
}

// Run starts a bridge with the given configuration and blocks until
// the context is cancelled.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	b, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return b.Stop()
}

// applyConfig picks up the runtime-changeable settings from a reloaded
// configuration.
func (b *Bridge) applyConfig(cfg Config) {
	b.logger.Info("applying reloaded configuration",
		log.Duration("frame_timeout", cfg.FrameTimeout),
		log.Duration("poll_interval", cfg.PollInterval),
	)
	b.inner.ApplyTimings(cfg.FrameTimeout, cfg.PollInterval)
}

// MetricsHandler returns an HTTP handler exposing the bridge metrics
// in Prometheus exposition format.
func (b *Bridge) MetricsHandler() http.Handler {
	return metric.Handler(b.registry)
}

// Connected reports the inferred device connectivity.
func (b *Bridge) Connected() bool {
	return b.inner.Connected()
}

// ConnState returns the watchdog state, exported for diagnostics.
type ConnState = watchdog.ConnState

// LastStatus returns the most recent controller status, if any reply
// has arrived.
func (b *Bridge) LastStatus() (StatusReply, bool) {
	return b.inner.LastStatus()
}

// ReceiveStatus blocks until the next decoded status reply.
func (b *Bridge) ReceiveStatus(ctx context.Context) (StatusReply, error) {
	return b.inner.ReceiveStatus(ctx)
}

// ReceiveEvent blocks until the next decoded frame event.
func (b *Bridge) ReceiveEvent(ctx context.Context) (FrameEvent, error) {
	return b.inner.ReceiveEvent(ctx)
}

// Enqueue sends a raw command if the device is connected. Returns
// false, with the command dropped, otherwise.
func (b *Bridge) Enqueue(cmd []byte) bool {
	return b.inner.Enqueue(cmd)
}

// Configure sends a configure command with the given parameters.
func (b *Bridge) Configure(params map[string]interface{}) bool {
	return b.inner.Configure(params)
}

// Reset resets the controller.
func (b *Bridge) Reset() bool {
	return b.inner.Reset()
}

// ClearError clears a latched controller error.
func (b *Bridge) ClearError() bool {
	return b.inner.ClearError()
}

// Singleshot arms a single-shot acquisition.
func (b *Bridge) Singleshot() bool {
	return b.inner.Singleshot()
}

// ShutdownController asks the controller process itself to exit. The
// bridge keeps running and will report the device disconnected.
func (b *Bridge) ShutdownController() bool {
	return b.inner.Shutdown()
}

// SetMode switches the controller operating mode.
func (b *Bridge) SetMode(mode int) bool {
	return b.inner.SetMode(mode)
}

// SetAttenuation sets the filter attenuation level directly.
func (b *Bridge) SetAttenuation(level int64) bool {
	return b.inner.SetAttenuation(level)
}

// SetTimeout updates the frame timeout locally and on the controller.
func (b *Bridge) SetTimeout(d time.Duration) bool {
	return b.inner.SetTimeout(d)
}

// SetTargetPath sets the path the next OpenFile creates.
func (b *Bridge) SetTargetPath(path string) bool {
	return b.inner.SetTargetPath(path)
}

// OpenFile opens the dataset file at the configured target path.
func (b *Bridge) OpenFile() bool {
	return b.inner.OpenFile()
}

// CloseFile flushes and closes the dataset file.
func (b *Bridge) CloseFile() {
	b.inner.CloseFile()
}

// FileOpen reports whether a dataset file is currently open.
func (b *Bridge) FileOpen() bool {
	return b.inner.FileOpen()
}
