package arbiter

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "requests_total",
			Help:      "Total GPU acquisition requests",
		},
		[]string{"service"},
	)

	timeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "timeouts_total",
			Help:      "GPU requests that timed out waiting",
		},
		[]string{"service"},
	)

	waitSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "wait_seconds_total",
			Help:      "Cumulative time requests spent queued before a grant",
		},
	)

	usageSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "usage_seconds_total",
			Help:      "Cumulative time leases held the GPU",
		},
	)

	lockedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "locked",
			Help:      "1 while a lease holds the GPU, 0 otherwise",
		},
	)

	queueLengthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "arbiterd",
			Subsystem: "gpu",
			Name:      "queue_length",
			Help:      "Requests currently waiting for the GPU",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		timeoutsTotal,
		waitSecondsTotal,
		usageSecondsTotal,
		lockedGauge,
		queueLengthGauge,
	)
}
