package dispatch

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	QuarantinedTotal *prometheus.CounterVec
	InfraErrorsTotal *prometheus.CounterVec
	CommitErrors     prometheus.Counter
	HandleSeconds    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_dispatch_events_total", Help: "Consumed events by type and outcome."},
			[]string{"event_type", "outcome"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_dispatch_retries_total", Help: "Handler retries after a failed attempt."},
			[]string{"event_type"},
		),
		QuarantinedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_dispatch_quarantined_total", Help: "Messages moved to the dead-letter store."},
			[]string{"reason"},
		),
		InfraErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_dispatch_store_errors_total", Help: "Ledger and dead-letter store errors by operation."},
			[]string{"op"},
		),
		CommitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3_dispatch_commit_errors_total",
			Help: "Failed offset commits.",
		}),
		HandleSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3_dispatch_handle_duration_seconds",
				Help:    "Time from fetch to acknowledgement decision.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.EventsTotal, m.RetriesTotal, m.QuarantinedTotal, m.InfraErrorsTotal, m.CommitErrors, m.HandleSeconds)
	return m
}
