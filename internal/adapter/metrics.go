package adapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the adapter saw. A nil *Metrics records nothing.
type Metrics struct {
	filesAdded      prometheus.Counter
	rejected        *prometheus.CounterVec
	uploaded        prometheus.Counter
	signingDuration prometheus.Histogram
}

// NewMetrics registers the adapter metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		filesAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uploader",
			Name:      "files_added_total",
			Help:      "Files added to the upload queue",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uploader",
			Name:      "files_rejected_total",
			Help:      "Files abandoned before or during upload, by reason",
		}, []string{"kind"}),
		uploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "uploader",
			Name:      "files_uploaded_total",
			Help:      "Files uploaded and written into the form",
		}),
		signingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uploader",
			Name:      "signing_duration_seconds",
			Help:      "Time spent waiting for the signing endpoint",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) fileAdded() {
	if m != nil {
		m.filesAdded.Inc()
	}
}

func (m *Metrics) fileRejected(kind Kind) {
	if m != nil {
		m.rejected.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) fileUploaded() {
	if m != nil {
		m.uploaded.Inc()
	}
}

func (m *Metrics) observeSigning(d time.Duration) {
	if m != nil {
		m.signingDuration.Observe(d.Seconds())
	}
}
