// Package metrics provides Prometheus metrics for voice print builds,
// embedding calls, and assignment decisions.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	// buildsTotal counts voice print builds.
	// Labels:
	//   - backend: embedding backend id (e.g. "pyannote", "ecapa-tdnn")
	//   - status: "ok" or an error kind (e.g. "insufficient_samples")
	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceid_builds_total",
			Help: "Total number of voice print builds",
		},
		[]string{"backend", "status"},
	)

	buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceid_build_duration_seconds",
			Help:    "Duration of voice print builds in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"backend"},
	)

	embeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceid_embeddings_total",
			Help: "Total number of embedding extractions",
		},
		[]string{"backend", "status"},
	)

	embeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceid_embedding_duration_seconds",
			Help:    "Duration of embedding extractions in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
		},
		[]string{"backend"},
	)

	// decisionsTotal counts assignment outcomes.
	// Labels:
	//   - backend: embedding backend id
	//   - decision: "assign", "assign_stale", or "abstain"
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceid_decisions_total",
			Help: "Total number of assignment decisions",
		},
		[]string{"backend", "decision"},
	)

	// storeLoadsTotal counts snapshot loads by where they were served from.
	// Labels:
	//   - backend: embedding backend id
	//   - source: "cache" or "repository"
	storeLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceid_store_loads_total",
			Help: "Total number of voice print store loads",
		},
		[]string{"backend", "source"},
	)
)

func init() {
	prometheus.MustRegister(buildsTotal)
	prometheus.MustRegister(buildDuration)
	prometheus.MustRegister(embeddingsTotal)
	prometheus.MustRegister(embeddingDuration)
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(storeLoadsTotal)
}

// RecordBuild records one voice print build outcome and its duration.
func RecordBuild(backend, status string, durationSeconds float64) {
	buildsTotal.WithLabelValues(backend, status).Inc()
	buildDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordEmbedding records one embedding extraction outcome and its duration.
func RecordEmbedding(backend, status string, durationSeconds float64) {
	embeddingsTotal.WithLabelValues(backend, status).Inc()
	embeddingDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordDecision records an assignment decision.
func RecordDecision(backend, decision string) {
	decisionsTotal.WithLabelValues(backend, decision).Inc()
}

// RecordStoreLoad records where a snapshot load was served from.
func RecordStoreLoad(backend, source string) {
	storeLoadsTotal.WithLabelValues(backend, source).Inc()
}

// Dump renders every registered metric in the Prometheus text format.
func Dump() (string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}
	var buf bytes.Buffer
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
			return "", fmt.Errorf("encode metric %s: %w", family.GetName(), err)
		}
	}
	return buf.String(), nil
}
