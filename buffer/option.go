package buffer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/anandphulwani/sentry/buffer/backend"
	"github.com/anandphulwani/sentry/buffer/store"
)

// Option configures the Buffer.
type Option func(*Buffer)

// WithStore sets the pending store. If not provided, an in-memory store
// is used by default.
func WithStore(s store.Store) Option {
	return func(b *Buffer) {
		b.store = s
	}
}

// WithBackend sets the backing row store updates are flushed into.
// If not provided, an in-memory backend is used by default.
func WithBackend(be backend.Backend) Option {
	return func(b *Buffer) {
		b.backend = be
	}
}

// WithStrategy sets the flush strategy. The default is Immediate.
func WithStrategy(s Strategy) Option {
	return func(b *Buffer) {
		b.strategy = s
	}
}

// WithFlushInterval sets how often the flush loop drains the pending
// store. For the Threshold strategy this is the deadline guard that
// flushes a store that stopped growing. Default 10s.
func WithFlushInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithFlushThreshold sets the number of distinct pending identities that
// triggers a flush under the Threshold strategy. Default 100.
func WithFlushThreshold(n int) Option {
	return func(b *Buffer) {
		b.threshold = n
	}
}

// WithDispatchTimeout bounds a single dispatch against the backend,
// including retries. Default 30s.
func WithDispatchTimeout(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.dispatchTimeout = d
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Buffer) {
		b.log = log
	}
}

// WithMetrics registers the buffer's Prometheus instruments on reg and
// enables recording. Without this option no metrics are collected.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *Buffer) {
		b.metrics = newMetrics(reg)
	}
}

// WithScheduler sets the scheduler used for asynchronous dispatch under
// the Immediate strategy. The default runs each task on its own
// goroutine; plug in an external task queue for at-least-once delivery
// across processes.
func WithScheduler(s Scheduler) Option {
	return func(b *Buffer) {
		b.scheduler = s
	}
}

// WithSubscriber adds a completion-event subscriber at construction.
func WithSubscriber(fn Subscriber) Option {
	return func(b *Buffer) {
		b.subscribers = append(b.subscribers, fn)
	}
}
