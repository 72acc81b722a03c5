package probe

import "github.com/prometheus/client_golang/prometheus"

var probeResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webgen_probe_results_total",
		Help: "Total number of liveness probes by observed process state.",
	},
	[]string{"state"},
)

func init() {
	prometheus.MustRegister(probeResults)

	for _, s := range []State{StateRunning, StateZombie, StateDead} {
		probeResults.WithLabelValues(string(s))
	}
}
