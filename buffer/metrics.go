package buffer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments a Buffer reports into.
// Construction is optional; a nil *Metrics disables all recording.
type Metrics struct {
	incrsBuffered    prometheus.Counter
	flushes          prometheus.Counter
	flushDuration    prometheus.Histogram
	flushBatchSize   prometheus.Histogram
	dispatchFailures prometheus.Counter
	callbacks        prometheus.Counter
	subscriberPanics prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		incrsBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_increments_buffered_total",
			Help: "Total number of increments merged into the pending store",
		}),
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_flushes_total",
			Help: "Total number of pending-store drains",
		}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buffer_flush_duration_seconds",
			Help:    "Time taken to drain and dispatch pending updates",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		flushBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buffer_flush_batch_size",
			Help:    "Number of coalesced entries per flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		dispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_dispatch_failures_total",
			Help: "Total number of backend upserts that failed after retries",
		}),
		callbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_callbacks_invoked_total",
			Help: "Total number of registered callback invocations",
		}),
		subscriberPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_subscriber_panics_total",
			Help: "Total number of completion subscribers that panicked",
		}),
	}
}

func (m *Metrics) incrBuffered() {
	if m != nil {
		m.incrsBuffered.Inc()
	}
}

func (m *Metrics) flushObserved(entries int, d time.Duration) {
	if m != nil {
		m.flushes.Inc()
		m.flushBatchSize.Observe(float64(entries))
		m.flushDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) dispatchFailed() {
	if m != nil {
		m.dispatchFailures.Inc()
	}
}

func (m *Metrics) callbackInvoked() {
	if m != nil {
		m.callbacks.Inc()
	}
}

func (m *Metrics) subscriberPanicked() {
	if m != nil {
		m.subscriberPanics.Inc()
	}
}
