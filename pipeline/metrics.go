package pipeline

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/variazioni/classify"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	Runs          *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	Documents     *prometheus.CounterVec
	Variations    *prometheus.CounterVec
	Rotations     *prometheus.CounterVec
	LowConfidence prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which suits tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "variazioni", Name: "runs_total",
			Help: "Polling runs by outcome.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "variazioni", Name: "run_duration_seconds",
			Help:    "Duration of completed polling runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "variazioni", Name: "documents_total",
			Help: "Documents handled, by parser and status.",
		}, []string{"parser", "status"}),
		Variations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "variazioni", Name: "variations_total",
			Help: "Classified variations by type.",
		}, []string{"type"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "variazioni", Name: "rotation_attempts_total",
			Help: "Text parser attempts by rotation angle.",
		}, []string{"parser", "degrees"}),
		LowConfidence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "variazioni", Name: "ocr_low_confidence_cells_total",
			Help: "OCR cells recognised below the confidence threshold.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.RunDuration, m.Documents, m.Variations, m.Rotations, m.LowConfidence)
	}
	return m
}

// RotationHook counts rotation attempts; pass it to layout.WithRotationHook.
func (m *Metrics) RotationHook(parser string, degrees int) {
	m.Rotations.WithLabelValues(parser, strconv.Itoa(degrees)).Inc()
}

// LowConfidenceHook counts weak OCR cells; pass it to
// ocr.WithLowConfidenceHook.
func (m *Metrics) LowConfidenceHook(string, float64) {
	m.LowConfidence.Inc()
}

func (m *Metrics) observeCounts(c classify.Counts) {
	m.Variations.WithLabelValues("new").Add(float64(c.New))
	m.Variations.WithLabelValues("edited").Add(float64(c.Edited))
	m.Variations.WithLabelValues("removed").Add(float64(c.Removed))
}
