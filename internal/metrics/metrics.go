// Package metrics holds the Prometheus collectors for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_intents_total",
			Help: "Level-1 intents resolved by the router",
		},
		[]string{"intent"},
	)

	widgetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_widgets_total",
			Help: "Widget types returned to callers",
		},
		[]string{"widget"},
	)

	classifierFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_classifier_failures_total",
			Help: "Classifier calls that fell back to their default",
		},
		[]string{"stage"},
	)

	guardrailTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_guardrail_total",
			Help: "Guardrail topic decisions",
		},
		[]string{"topic"},
	)

	historyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_history_errors_total",
			Help: "History store operations that failed and were degraded",
		},
		[]string{"op"},
	)

	bucketsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindspace_buckets_created_total",
			Help: "History buckets created",
		},
		[]string{"backend"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mindspace_generation_duration_seconds",
			Help:    "Latency of general-chat reply generation",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		intentsTotal,
		widgetsTotal,
		classifierFailuresTotal,
		guardrailTotal,
		historyErrorsTotal,
		bucketsCreatedTotal,
		generationDuration,
	)
}

func RecordIntent(intent string) {
	intentsTotal.WithLabelValues(intent).Inc()
}

func RecordWidget(widget string) {
	widgetsTotal.WithLabelValues(widget).Inc()
}

func RecordClassifierFailure(stage string) {
	classifierFailuresTotal.WithLabelValues(stage).Inc()
}

func RecordGuardrail(topic string) {
	guardrailTotal.WithLabelValues(topic).Inc()
}

func RecordHistoryError(op string) {
	historyErrorsTotal.WithLabelValues(op).Inc()
}

func RecordBucketCreated(backend string) {
	bucketsCreatedTotal.WithLabelValues(backend).Inc()
}

func ObserveGeneration(d time.Duration) {
	generationDuration.Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
