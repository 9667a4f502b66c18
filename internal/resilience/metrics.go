package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors live on the default registry, which both the API and the
// worker serve on /metrics.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trip",
		Name:      "outbound_breaker_state",
		Help:      "Breaker position per target: 0 closed, 1 open, 2 half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trip",
		Name:      "outbound_breaker_transitions_total",
		Help:      "Breaker state changes per target.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trip",
		Name:      "outbound_breaker_open_total",
		Help:      "Times a breaker opened.",
	}, []string{"target"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal)
}
