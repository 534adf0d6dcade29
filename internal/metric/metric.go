// Package metric defines the prometheus instrumentation for the bridge:
// transport traffic, watchdog probe outcomes and recorder writes.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filterbridge"

// Metrics holds all bridge-level metrics.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec

	ProbesSent       prometheus.Counter
	ProbeMisses      prometheus.Counter
	CommandsRejected prometheus.Counter

	FramesWritten prometheus.Counter
	DatasetLength prometheus.Gauge
	FileOpen      prometheus.Gauge

	Connected prometheus.Gauge
}

// New creates an unregistered Metrics instance.
func New() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_sent_total",
				Help:      "Messages written to the wire, by channel",
			},
			[]string{"channel"},
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Messages read from the wire, by channel",
			},
			[]string{"channel"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "send_failures_total",
				Help:      "Write failures absorbed by the send loop, by channel",
			},
			[]string{"channel"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Connection (re)establishments, by channel",
			},
			[]string{"channel"},
		),
		ProbesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "probes_sent_total",
			Help:      "Status probes issued by the connectivity watchdog",
		}),
		ProbeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "probe_misses_total",
			Help:      "Poll ticks that found the previous probe unanswered",
		}),
		CommandsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "commands_rejected_total",
			Help:      "Commands dropped because the device was disconnected",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "frames_written_total",
			Help:      "Frame records written to the open dataset file",
		}),
		DatasetLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "dataset_length",
			Help:      "Current length of the frame-indexed datasets",
		}),
		FileOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "file_open",
			Help:      "Whether a dataset file is currently open (0 or 1)",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "connected",
			Help:      "Inferred device connectivity (0 or 1)",
		}),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.MessagesSent,
		m.MessagesReceived,
		m.SendFailures,
		m.Reconnects,
		m.ProbesSent,
		m.ProbeMisses,
		m.CommandsRejected,
		m.FramesWritten,
		m.DatasetLength,
		m.FileOpen,
		m.Connected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an HTTP handler serving the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
