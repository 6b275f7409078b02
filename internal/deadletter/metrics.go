package deadletter

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	PollsTotal      prometheus.Counter
	ClaimedTotal    prometheus.Counter
	ReplayedTotal   *prometheus.CounterVec
	FailedTotal     *prometheus.CounterVec
	RequeuedStuck   prometheus.Counter
	StoreErrorTotal *prometheus.CounterVec
	LagSeconds      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3_deadletter_relay_polls_total",
			Help: "Dead-letter relay polling ticks.",
		}),
		ClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3_deadletter_relay_claimed_total",
			Help: "Requeued dead letters claimed for replay.",
		}),
		ReplayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_deadletter_replayed_total", Help: "Dead letters republished to their topic."},
			[]string{"topic"},
		),
		FailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_deadletter_replay_failed_total", Help: "Failed dead-letter republish attempts."},
			[]string{"topic"},
		),
		RequeuedStuck: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "s3_deadletter_relay_requeued_stuck_total",
			Help: "Replays that stalled and were put back to requeued.",
		}),
		StoreErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "s3_deadletter_relay_store_errors_total", Help: "Dead-letter store errors by operation."},
			[]string{"op"},
		),
		LagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s3_deadletter_relay_lag_seconds",
			Help: "Age of the oldest claimed dead letter.",
		}),
	}
	reg.MustRegister(m.PollsTotal, m.ClaimedTotal, m.ReplayedTotal, m.FailedTotal, m.RequeuedStuck, m.StoreErrorTotal, m.LagSeconds)
	return m
}
