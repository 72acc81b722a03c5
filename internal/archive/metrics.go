package archive

import "github.com/prometheus/client_golang/prometheus"

var (
	packageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webgen_package_duration_seconds",
			Help:    "Time spent building result archives, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	packageInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webgen_package_inflight",
			Help: "Number of result archives currently being built.",
		},
	)
)

func init() {
	prometheus.MustRegister(packageDuration)
	prometheus.MustRegister(packageInflight)
}
