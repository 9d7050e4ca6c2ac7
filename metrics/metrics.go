// Package metrics exposes Prometheus metrics for recommendation engines.
//
// Metrics:
//   - graphreco_engine_recommendations_total{engine}: completed Recommend calls
//   - graphreco_engine_draws_total{engine,outcome}: selector calls by outcome
//     (accepted, empty, error)
//   - graphreco_engine_exhausted_total{engine}: calls that ran out of attempts short of the limit
//   - graphreco_engine_results{engine}: number of results per call (histogram)
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Draw outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

type Collector struct {
	recommendations *prometheus.CounterVec
	draws           *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	results         *prometheus.HistogramVec
}

// NewCollector creates the engine metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		recommendations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphreco_engine_recommendations_total",
				Help: "Total number of completed recommendation calls",
			},
			[]string{"engine"},
		),
		draws: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphreco_engine_draws_total",
				Help: "Total number of node selections by outcome",
			},
			[]string{"engine", "outcome"},
		),
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphreco_engine_exhausted_total",
				Help: "Recommendation calls that used every attempt before reaching the limit",
			},
			[]string{"engine"},
		),
		results: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphreco_engine_results",
				Help:    "Number of recommendations returned per call",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"engine"},
		),
	}

	for _, collector := range []prometheus.Collector{c.recommendations, c.draws, c.exhausted, c.results} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register engine metrics: %w", err)
		}
	}
	return c, nil
}

// ObserveDraw records one selector call.
func (c *Collector) ObserveDraw(engine, outcome string) {
	if c == nil {
		return
	}
	c.draws.WithLabelValues(engine, outcome).Inc()
}

// ObserveRecommendation records a completed call that returned results recommendations.
func (c *Collector) ObserveRecommendation(engine string, results int, exhausted bool) {
	if c == nil {
		return
	}
	c.recommendations.WithLabelValues(engine).Inc()
	c.results.WithLabelValues(engine).Observe(float64(results))
	if exhausted {
		c.exhausted.WithLabelValues(engine).Inc()
	}
}
