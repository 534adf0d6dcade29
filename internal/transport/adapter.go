package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/internal/supervisor"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Adapter owns one logical connection to the peer on a single channel.
// Writers enqueue without blocking and without seeing failures; readers
// drain the inbound queue in arrival order. The send and receive loops
// run as independent supervisor workers and absorb wire faults with
// backoff instead of terminating.
type Adapter struct {
	name    string
	pattern Pattern
	dial    DialFunc
	sup     *supervisor.Supervisor
	logger  log.Logger
	metrics *metric.Metrics

	out *Queue
	in  *Queue

	mu      sync.Mutex
	running bool
	conn    Conn

	// dialMu serializes connection establishment between the send and
	// receive loops.
	dialMu      sync.Mutex
	dialBackoff *Backoff

	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewAdapter creates an adapter for the named channel. Metrics may be
// nil.
func NewAdapter(
	name string,
	pattern Pattern,
	dial DialFunc,
	sup *supervisor.Supervisor,
	logger log.Logger,
	metrics *metric.Metrics,
) *Adapter {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Adapter{
		name:           name,
		pattern:        pattern,
		dial:           dial,
		sup:            sup,
		logger:         logger,
		metrics:        metrics,
		out:            NewQueue(),
		in:             NewQueue(),
		dialBackoff:    NewBackoff(DefaultBackoffInitial, DefaultBackoffMax),
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
	}
}

// Enqueue appends a command to the outbound queue. It never blocks and
// never reports failure; sends are fire-and-forget from the caller's
// perspective. On subscribe channels the command is dropped with a log
// line.
func (a *Adapter) Enqueue(cmd []byte) {
	if a.pattern != RequestReply {
		a.logger.Warn("enqueue on subscribe channel ignored", log.String("channel", a.name))
		return
	}
	a.out.Push(cmd)
}

// Receive blocks until the next inbound message is available and
// returns messages in arrival order.
func (a *Adapter) Receive(ctx context.Context) ([]byte, error) {
	return a.in.Pop(ctx)
}

// Pending returns the number of outbound messages not yet written.
func (a *Adapter) Pending() int {
	return a.out.Len()
}

// Run starts the adapter's loops under the supervisor. Idempotent: a
// second call on a running adapter is a logged no-op.
func (a *Adapter) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.Debug("adapter already running", log.String("channel", a.name))
		return nil
	}
	a.running = true
	a.mu.Unlock()

	if a.pattern == RequestReply {
		a.sup.Go(a.name+"-send", a.sendLoop)
	}
	a.sup.Go(a.name+"-recv", a.recvLoop)
	return nil
}

// Close releases the connection and marks the adapter not running.
// Reentrant. Loop goroutines exit through supervisor cancellation.
func (a *Adapter) Close() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Warn("connection close failed", log.String("channel", a.name), log.Err(err))
		}
	}
	a.logger.Info("adapter closed", log.String("channel", a.name))
}

// Running reports whether Run has been called without a subsequent
// Close.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// sendLoop drains the outbound queue onto the wire in FIFO order. A
// write failure is logged and followed by backoff; the failed item is
// not redelivered. The loop terminates only on cancellation.
func (a *Adapter) sendLoop(ctx context.Context) {
	back := NewBackoff(a.backoffInitial, a.backoffMax)

	for {
		item, err := a.out.Pop(ctx)
		if err != nil {
			return
		}

		conn := a.ensureConn(ctx)
		if conn == nil {
			return
		}

		if err := conn.Send(item); err != nil {
			a.logger.Warn("write failed, message lost",
				log.String("channel", a.name),
				log.Err(err),
			)
			if a.metrics != nil {
				a.metrics.SendFailures.WithLabelValues(a.name).Inc()
			}
			if errors.Is(err, ErrConnClosed) || conn.Closed() {
				a.dropConn(conn)
			}
			if back.Sleep(ctx) != nil {
				return
			}
			continue
		}

		back.Reset()
		if a.metrics != nil {
			a.metrics.MessagesSent.WithLabelValues(a.name).Inc()
		}
	}
}

// recvLoop reads from the wire and pushes raw payloads onto the
// inbound queue. Read failures are absorbed with backoff.
func (a *Adapter) recvLoop(ctx context.Context) {
	back := NewBackoff(a.backoffInitial, a.backoffMax)

	for {
		conn := a.ensureConn(ctx)
		if conn == nil {
			return
		}

		data, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("read failed", log.String("channel", a.name), log.Err(err))
			if conn.Closed() {
				a.dropConn(conn)
			}
			if back.Sleep(ctx) != nil {
				return
			}
			continue
		}

		back.Reset()
		a.in.Push(data)
		if a.metrics != nil {
			a.metrics.MessagesReceived.WithLabelValues(a.name).Inc()
		}
	}
}

// ensureConn returns the live connection, dialling with backoff until
// one is established. Returns nil once the adapter is closed or the
// context cancelled.
func (a *Adapter) ensureConn(ctx context.Context) Conn {
	a.dialMu.Lock()
	defer a.dialMu.Unlock()

	for {
		a.mu.Lock()
		conn := a.conn
		running := a.running
		a.mu.Unlock()

		if !running || ctx.Err() != nil {
			return nil
		}
		if conn != nil && !conn.Closed() {
			return conn
		}

		fresh, err := a.dial(ctx)
		if err != nil {
			a.logger.Warn("dial failed", log.String("channel", a.name), log.Err(err))
			if a.dialBackoff.Sleep(ctx) != nil {
				return nil
			}
			continue
		}

		a.mu.Lock()
		a.conn = fresh
		a.mu.Unlock()
		a.dialBackoff.Reset()
		if a.metrics != nil {
			a.metrics.Reconnects.WithLabelValues(a.name).Inc()
		}
		a.logger.Info("channel connected",
			log.String("channel", a.name),
			log.String("pattern", a.pattern.String()),
		)
		return fresh
	}
}

// dropConn discards a dead connection so the next ensureConn redials.
func (a *Adapter) dropConn(conn Conn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	_ = conn.Close()
}
