package durability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hostFunctionCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durable",
		Name:      "host_function_calls_total",
		Help:      "Host function calls made by workers, live or replayed",
	}, []string{"interface", "function"})

	persistedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durable",
		Name:      "persisted_host_calls_total",
		Help:      "Host calls executed live and written to the oplog",
	}, []string{"function", "function_type"})

	replayedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "durable",
		Name:      "replayed_host_calls_total",
		Help:      "Host calls answered from the oplog",
	}, []string{"function"})

	liveCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "durable",
		Name:      "live_host_call_duration_seconds",
		Help:      "Duration of live host call execution including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"function"})

	divergences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "durable",
		Name:      "replay_divergences_total",
		Help:      "Replays that stopped because the worker diverged from its oplog",
	})
)

// ObserveFunctionCall counts a host function call.
func ObserveFunctionCall(iface, function string) {
	hostFunctionCalls.WithLabelValues(iface, function).Inc()
}
