package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// SimSteps counts completed simulation steps.
	SimSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sim_steps_total",
			Help: "Total number of completed simulation steps",
		},
	)

	// SimStepDuration tracks the wall time of a simulation step.
	SimStepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sim_step_duration_seconds",
			Help:    "Simulation step duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// SimTick mirrors the current simulation tick counter.
	SimTick = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sim_tick",
			Help: "Current simulation tick",
		},
	)

	// AgentsGauge tracks the simulated agent population.
	AgentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sim_agents",
			Help: "Current number of agents in the simulation",
		},
	)

	// MatchesTotal counts delivered matches by asset.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_matches_total",
			Help: "Total number of matches by asset",
		},
		[]string{"asset"},
	)

	// MatchedQtyTotal counts the matched quantity by asset.
	MatchedQtyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_matched_qty_total",
			Help: "Total matched quantity by asset",
		},
		[]string{"asset"},
	)

	// BookDepth tracks the number of live price bins per book side.
	BookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sim_orderbook_depth_bins",
			Help: "Current order book depth bins",
		},
		[]string{"asset", "side"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
