package importer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the import progress metrics.
type Metrics struct {
	entriesTotal  *prometheus.CounterVec
	entryDuration prometheus.Histogram
	cursorOffset  prometheus.Gauge
}

// NewMetrics creates and registers import metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evidex",
			Subsystem: "import",
			Name:      "entries_total",
			Help:      "Imported manifest entries by result",
		}, []string{"result"}), // created / updated / read_error / index_error

		entryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "evidex",
			Subsystem: "import",
			Name:      "entry_duration_seconds",
			Help:      "Per-entry read and index duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		cursorOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evidex",
			Subsystem: "import",
			Name:      "cursor_offset",
			Help:      "Manifest offset below which all entries are done",
		}),
	}

	reg.MustRegister(m.entriesTotal, m.entryDuration, m.cursorOffset)
	return m
}
