package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesWritten counts entries appended per collection.
	// Labels: collection (records, moods, inspirations, todos)
	EntriesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicenote",
			Subsystem: "store",
			Name:      "entries_written_total",
			Help:      "Total number of entries appended to each collection",
		},
		[]string{"collection"},
	)

	// WriteErrors counts failed collection rewrites.
	// Labels: collection
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicenote",
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Total number of failed collection writes",
		},
		[]string{"collection"},
	)
)
