package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts transport activity. A nil *Metrics is valid and records
// nothing, so components can be built without a registry.
type Metrics struct {
	framesIn         prometheus.Counter
	framesOut        prometheus.Counter
	bytesIn          prometheus.Counter
	bytesOut         prometheus.Counter
	checksumFailures prometheus.Counter
	ioErrors         *prometheus.CounterVec
	connections      prometheus.Gauge
	accepted         prometheus.Counter
	vetoed           prometheus.Counter
}

// NewMetrics registers the transport metrics with reg under namespace.
// Registering twice with the same registry panics, as with any promauto
// collector.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of valid frames received",
		}),
		framesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Total number of frames fully written to a socket",
		}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "received_bytes_total",
			Help:      "Total number of frame bytes received, headers included",
		}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "sent_bytes_total",
			Help:      "Total number of frame bytes sent, headers included",
		}),
		checksumFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "checksum_failures_total",
			Help:      "Total number of connections dropped because a checksum did not match",
		}),
		ioErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "io_errors_total",
			Help:      "Total number of socket errors, by the operation that failed",
		}, []string{"op"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Number of connections currently in the connected state",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_accepted_total",
			Help:      "Total number of inbound connections admitted to the roster",
		}),
		vetoed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_vetoed_total",
			Help:      "Total number of inbound connections refused by OnClientConnect",
		}),
	}
}

func (m *Metrics) frameIn(size int) {
	if m == nil {
		return
	}
	m.framesIn.Inc()
	m.bytesIn.Add(float64(size))
}

func (m *Metrics) frameOut(size int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.bytesOut.Add(float64(size))
}

func (m *Metrics) checksumFailed() {
	if m == nil {
		return
	}
	m.checksumFailures.Inc()
}

func (m *Metrics) ioError(op string) {
	if m == nil {
		return
	}
	m.ioErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) admitted(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.accepted.Inc()
	} else {
		m.vetoed.Inc()
	}
}
