package watchdog

import (
	"github.com/beamctl/filterbridge/internal/metric"
	"github.com/beamctl/filterbridge/pkg/log"
)

// Connectivity reports inferred device liveness. Satisfied by
// *Watchdog.
type Connectivity interface {
	Connected() bool
}

// Gate makes the connectivity precondition on command sends explicit.
// Commands issued while disconnected are dropped and logged, never
// queued: stale commands must not replay after a reconnect.
type Gate struct {
	conn    Connectivity
	sender  Sender
	logger  log.Logger
	metrics *metric.Metrics
}

// NewGate creates a gate in front of sender. Metrics may be nil.
func NewGate(conn Connectivity, sender Sender, logger log.Logger, metrics *metric.Metrics) *Gate {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Gate{conn: conn, sender: sender, logger: logger, metrics: metrics}
}

// TrySend enqueues cmd if the device is connected. Returns false, with
// the command dropped, otherwise.
func (g *Gate) TrySend(cmd []byte) bool {
	if !g.conn.Connected() {
		g.logger.Warn("command dropped, device disconnected", log.String("command", string(cmd)))
		if g.metrics != nil {
			g.metrics.CommandsRejected.Inc()
		}
		return false
	}
	g.sender.Enqueue(cmd)
	return true
}
