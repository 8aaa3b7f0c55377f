package jsonmessenger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a messenger. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	messages      *prometheus.CounterVec
	bytesReceived prometheus.Counter
	framingErrors prometheus.Counter
	decodeErrors  prometheus.Counter
	echoRequests  prometheus.Counter
	echoReplies   prometheus.Counter
	livenessDrops prometheus.Counter
	messageSize   prometheus.Histogram
}

// NewMetrics creates the messenger collectors and registers them with reg.
// It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsonmessenger",
			Name:      "connections",
			Help:      "Connections currently registered",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "messages_total",
			Help:      "Framed messages dispatched, by kind",
		}, []string{"kind"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "bytes_received_total",
			Help:      "Raw bytes delivered to the framer",
		}),
		framingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "framing_errors_total",
			Help:      "Connections dropped for unbalanced or oversized messages",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "decode_errors_total",
			Help:      "Balanced messages that failed to decode",
		}),
		echoRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "echo_requests_sent_total",
			Help:      "Echo requests sent to idle peers",
		}),
		echoReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "echo_replies_sent_total",
			Help:      "Echo replies sent in answer to peer requests",
		}),
		livenessDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonmessenger",
			Name:      "liveness_drops_total",
			Help:      "Connections dropped after unanswered echo requests",
		}),
		messageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jsonmessenger",
			Name:      "message_size_bytes",
			Help:      "Size of framed messages",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.connections, m.messages, m.bytesReceived, m.framingErrors,
		m.decodeErrors, m.echoRequests, m.echoReplies, m.livenessDrops, m.messageSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) connected() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) message(kind MessageKind, size int) {
	if m != nil {
		m.messages.WithLabelValues(kind.String()).Inc()
		m.messageSize.Observe(float64(size))
	}
}

func (m *Metrics) framingError() {
	if m != nil {
		m.framingErrors.Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) echoRequest() {
	if m != nil {
		m.echoRequests.Inc()
	}
}

func (m *Metrics) echoReply() {
	if m != nil {
		m.echoReplies.Inc()
	}
}

func (m *Metrics) livenessDrop() {
	if m != nil {
		m.livenessDrops.Inc()
	}
}
