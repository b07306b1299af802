package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled, by route and response status.",
		},
		[]string{"route", "status"},
	)

	GateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_gate_rejections_total",
			Help: "Requests rejected before the business action, by gate.",
		},
		[]string{"gate"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Latency of calls to the recommendation backend.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	FeedbackWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_feedback_writes_total",
			Help: "Feedback rows written, by result (created or updated).",
		},
		[]string{"result"},
	)
)

// Init registers all collectors with the default registry. Call once at
// startup.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		GateRejectionsTotal,
		UpstreamDuration,
		FeedbackWritesTotal,
	)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one completed request.
func ObserveRequest(route string, status int) {
	RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveRejection records a gate rejection ("origin", "challenge",
// "rate_limit", "validation").
func ObserveRejection(gate string) {
	GateRejectionsTotal.WithLabelValues(gate).Inc()
}
