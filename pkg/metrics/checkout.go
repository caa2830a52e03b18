package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reservation outcomes.
const (
	OutcomeReserved     = "reserved"
	OutcomeInsufficient = "insufficient"
	OutcomeConflict     = "conflict"
	OutcomeLockTimeout  = "lock_timeout"
	OutcomeError        = "error"
)

// Checkout computation and confirmation results.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// CheckoutMetrics records inventory, lock, and pricing activity.
type CheckoutMetrics struct {
	reservations    *prometheus.CounterVec
	releases        prometheus.Counter
	optimisticRetry prometheus.Counter
	lockWait        *prometheus.HistogramVec
	lockTimeouts    *prometheus.CounterVec
	computations    *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	m := &CheckoutMetrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Inventory reservation attempts by outcome.",
		}, []string{"outcome"}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_releases_total",
			Help: "Inventory release operations.",
		}),
		optimisticRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inventory_optimistic_retries_total",
			Help: "Reservation retries caused by revision conflicts.",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lock_wait_seconds",
			Help:    "Time spent acquiring the distributed mutex.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"scope"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lock_timeouts_total",
			Help: "Distributed mutex acquisitions that exhausted their retry budget.",
		}, []string{"scope"}),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_computations_total",
			Help: "Checkout computations by result.",
		}, []string{"result"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_confirmations_total",
			Help: "Checkout confirmations by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.reservations, m.releases, m.optimisticRetry, m.lockWait, m.lockTimeouts, m.computations, m.confirmations)
	return m
}

// IncReservation counts a reservation attempt with the given outcome.
func (m *CheckoutMetrics) IncReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRelease counts a stock release.
func (m *CheckoutMetrics) IncRelease() {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.Inc()
}

// IncOptimisticRetry counts one revision-conflict retry.
func (m *CheckoutMetrics) IncOptimisticRetry() {
	if m == nil || m.optimisticRetry == nil {
		return
	}
	m.optimisticRetry.Inc()
}

// ObserveLockWait records how long a mutex acquisition took.
func (m *CheckoutMetrics) ObserveLockWait(scope string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(scope)).Observe(wait.Seconds())
}

// IncLockTimeout counts an exhausted mutex acquisition.
func (m *CheckoutMetrics) IncLockTimeout(scope string) {
	if m == nil || m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(normalizeLabel(scope)).Inc()
}

// IncComputation counts a checkout computation.
func (m *CheckoutMetrics) IncComputation(result string) {
	if m == nil || m.computations == nil {
		return
	}
	m.computations.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncConfirmation counts a checkout confirmation.
func (m *CheckoutMetrics) IncConfirmation(result string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(result)).Inc()
}
