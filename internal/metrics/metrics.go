package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the service exposes on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		LoadsTotal, ClassificationsTotal, IgnoredRequestsTotal,
		InferenceDuration, SessionsActive,
	)
}

// LoadsTotal counts image loads by result: ok | invalid | superseded.
var LoadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "image_classifier_loads_total",
		Help: "Image loads by result.",
	},
	[]string{"result"},
)

// ClassificationsTotal counts completed inference calls by result:
// success | failed | stale.
var ClassificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "image_classifier_classifications_total",
		Help: "Completed classification calls by result.",
	},
	[]string{"result"},
)

// IgnoredRequestsTotal counts classify requests that never reached the
// model: no_image | not_current | in_flight.
var IgnoredRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "image_classifier_ignored_requests_total",
		Help: "Classify requests ignored without calling the model.",
	},
	[]string{"reason"},
)

var InferenceDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "image_classifier_inference_duration_seconds",
		Help:    "Time spent in the inference collaborator.",
		Buckets: prometheus.DefBuckets,
	},
)

var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "image_classifier_sessions_active",
		Help: "Sessions currently held in memory.",
	},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
