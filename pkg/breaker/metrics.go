package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// breakerState tracks the current state per circuit (0=closed, 1=open, 2=half_open)
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orch_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"circuit"})

	// breakerTransitions tracks state transitions per circuit
	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_breaker_transitions_total",
		Help: "Total circuit breaker state transitions by target state",
	}, []string{"circuit", "to"})

	// breakerRejections tracks calls rejected without reaching transport
	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_breaker_rejections_total",
		Help: "Total calls rejected by an open circuit",
	}, []string{"circuit"})

	// breakerFailures tracks calls recorded as failures
	breakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_breaker_failures_total",
		Help: "Total failures recorded against circuits",
	}, []string{"circuit"})
)
