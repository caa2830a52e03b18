package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay outcomes for an outbox row.
const (
	RelayPublished = "published"
	RelayFailed    = "failed"
	RelayParked    = "parked"
)

// RelayMetrics counts what the outbox relay did with each row.
type RelayMetrics struct {
	rows    *prometheus.CounterVec
	batch prometheus.Gauge
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_relay_rows_total",
			Help: "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_relay_batch_size",
			Help: "Rows fetched in the most recent relay batch.",
		}),
	}
	reg.MustRegister(m.rows, m.batch)
	return m
}

func (m *RelayMetrics) Observe(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *RelayMetrics) SetBatch(n int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Set(float64(n))
}
