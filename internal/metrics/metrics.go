// Package metrics holds the Prometheus collectors of the trading engine.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	ExchangeRequestDur *prometheus.HistogramVec // labels: op, outcome
	BreakerState       prometheus.Gauge         // 0=closed, 1=open, 2=half-open

	Proposals        *prometheus.CounterVec // labels: signal
	AdmissionRejects *prometheus.CounterVec // labels: reason
	OrdersPlaced     *prometheus.CounterVec // labels: side, type
	OrderFailures    *prometheus.CounterVec // labels: kind
	OCOPlaced        prometheus.Counter

	ReconcileTicks      *prometheus.CounterVec // labels: outcome
	ReconcileTickDur    prometheus.Histogram
	ReconcileRecordErrs *prometheus.CounterVec // labels: stage
	EntriesFilled       prometheus.Counter
	EntriesExpired      prometheus.Counter
}

// New builds the collectors on a private registry (plus Go/process collectors).
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ExchangeRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spotpilot_exchange_request_seconds",
			Help:    "Exchange REST call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"op", "outcome"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotpilot_exchange_breaker_state",
			Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_proposals_total",
			Help: "Proposals received",
		}, []string{"signal"}),
		AdmissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_admission_rejections_total",
			Help: "Proposals rejected by admission control",
		}, []string{"reason"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_orders_placed_total",
			Help: "Entry orders accepted by the exchange",
		}, []string{"side", "type"}),
		OrderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_order_failures_total",
			Help: "Entry placements that failed",
		}, []string{"kind"}),
		OCOPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotpilot_oco_placed_total",
			Help: "OCO exit lists placed",
		}),
		ReconcileTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_reconcile_ticks_total",
			Help: "Reconciliation ticks",
		}, []string{"outcome"}),
		ReconcileTickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotpilot_reconcile_tick_seconds",
			Help:    "Reconciliation tick duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ReconcileRecordErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotpilot_reconcile_record_errors_total",
			Help: "Per-record reconciliation failures",
		}, []string{"stage"}),
		EntriesFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotpilot_entries_filled_total",
			Help: "Entry fills detected by reconciliation",
		}),
		EntriesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotpilot_entries_expired_total",
			Help: "Entries canceled after their time horizon",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ExchangeRequestDur, m.BreakerState,
		m.Proposals, m.AdmissionRejects, m.OrdersPlaced, m.OrderFailures, m.OCOPlaced,
		m.ReconcileTicks, m.ReconcileTickDur, m.ReconcileRecordErrs, m.EntriesFilled, m.EntriesExpired,
	)
	return m
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveExchange(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeRequestDur.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

func (m *Metrics) ProposalReceived(signal string) {
	if m == nil {
		return
	}
	m.Proposals.WithLabelValues(signal).Inc()
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderPlaced(side, typ string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(side, typ).Inc()
}

func (m *Metrics) OrderFailed(kind string) {
	if m == nil {
		return
	}
	m.OrderFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) OCOPlacedInc() {
	if m == nil {
		return
	}
	m.OCOPlaced.Inc()
}

func (m *Metrics) TickDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReconcileTicks.WithLabelValues(outcome).Inc()
	m.ReconcileTickDur.Observe(d.Seconds())
}

func (m *Metrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.ReconcileRecordErrs.WithLabelValues(stage).Inc()
}

func (m *Metrics) EntryFilled() {
	if m == nil {
		return
	}
	m.EntriesFilled.Inc()
}

func (m *Metrics) EntryExpired() {
	if m == nil {
		return
	}
	m.EntriesExpired.Inc()
}
