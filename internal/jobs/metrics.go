package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webgen_jobs_created_total",
			Help: "Total number of jobs created, partitioned by launch outcome.",
		},
		[]string{"outcome"},
	)

	jobsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webgen_jobs_deleted_total",
			Help: "Total number of jobs deleted.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsCreated)
	prometheus.MustRegister(jobsDeleted)
}
