package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values.
const (
	stageValidate   = "validate"
	stageTranscribe = "transcribe"
	stageExtract    = "extract"
	stagePersist    = "persist"
)

var (
	// RequestsTotal counts processed requests.
	// Labels: input_type (audio, text, unknown), outcome (success or failure kind)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicenote",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total number of processed note submissions",
		},
		[]string{"input_type", "outcome"},
	)

	// StageDuration tracks time spent in each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicenote",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)
