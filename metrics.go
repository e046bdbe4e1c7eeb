package zocp

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/z25/gozocp/msg"
)

// nodeMetrics counts a node's traffic. The collectors always exist;
// whether they are registered anywhere is up to WithRegisterer. Every
// metric carries the node's short id, so several nodes can share one
// registry.
type nodeMetrics struct {
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	peerCount      prometheus.Gauge
	signalsEmitted prometheus.Counter
}

func newNodeMetrics(node string) *nodeMetrics {
	labels := prometheus.Labels{"node": node}

	return &nodeMetrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "zocp_frames_received_total",
			Help:        "ZOCP frames received, by verb.",
			ConstLabels: labels,
		}, []string{"verb"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "zocp_frames_sent_total",
			Help:        "ZOCP frames sent, by verb.",
			ConstLabels: labels,
		}, []string{"verb"}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "zocp_peers",
			Help:        "Peers currently present.",
			ConstLabels: labels,
		}),
		signalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "zocp_signals_emitted_total",
			Help:        "Signal emissions by this node.",
			ConstLabels: labels,
		}),
	}
}

func (m *nodeMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.framesReceived, m.framesSent, m.peerCount, m.signalsEmitted,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *nodeMetrics) received(verb msg.Verb) {
	m.framesReceived.WithLabelValues(string(verb)).Inc()
}

func (m *nodeMetrics) sent(verb msg.Verb) {
	m.framesSent.WithLabelValues(string(verb)).Inc()
}

func (m *nodeMetrics) peers(count int) {
	m.peerCount.Set(float64(count))
}

func (m *nodeMetrics) signal() {
	m.signalsEmitted.Inc()
}
