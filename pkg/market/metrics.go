package market

import "github.com/zeromicro/go-zero/core/metric"

const metricNamespace = "callscore"

var (
	providerRequests = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: metricNamespace,
		Subsystem: "price_provider",
		Name:      "requests_total",
		Help:      "price provider invocations by chain, provider and outcome.",
		Labels:    []string{"chain", "provider", "outcome"},
	})

	providerDuration = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: metricNamespace,
		Subsystem: "price_provider",
		Name:      "duration_ms",
		Help:      "price provider latency in milliseconds.",
		Labels:    []string{"chain", "provider"},
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)
