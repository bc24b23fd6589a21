package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anandphulwani/sentry/buffer/backend"
	"github.com/anandphulwani/sentry/buffer/store"
)

var (
	// ErrUnknownCallback is returned when a callback name was never registered.
	ErrUnknownCallback = errors.New("buffer: unknown callback")
	// ErrDuplicateCallback is returned when a callback name is registered twice.
	ErrDuplicateCallback = errors.New("buffer: callback already registered")
	// ErrRegistrySealed is returned when registering a callback after Start.
	ErrRegistrySealed = errors.New("buffer: callback registry is sealed")
)

// CallbackFunc is a named capability invoked with the values accumulated
// for it since the last flush, in arrival order.
type CallbackFunc func(ctx context.Context, values []string) error

// Completion describes one applied update. It is delivered to every
// subscriber after the backend upsert succeeds.
type Completion struct {
	BatchID string            // identifies the flush batch the update belonged to
	Kind    string            // entity kind of the affected row
	Filters map[string]string // filters that located the row
	Columns map[string]int64  // coalesced deltas that were applied
	Extra   map[string]string // fields that were overwritten
	Created bool              // whether the row was newly created
}

// Subscriber receives completion events. A subscriber that returns an
// error or panics is logged and does not affect the dispatch or any
// other subscriber.
type Subscriber func(Completion) error

// Buffer coalesces frequent small counter updates before they reach the
// backing store. Producers call Incr concurrently; depending on the
// configured [Strategy], updates are either dispatched immediately or
// merged into a pending store and flushed by a background loop.
//
// The zero value is not usable; construct with [New].
type Buffer struct {
	store     store.Store
	backend   backend.Backend
	strategy  Strategy
	interval  time.Duration
	threshold int

	dispatchTimeout time.Duration
	scheduler       Scheduler
	log             zerolog.Logger
	metrics         *Metrics

	regMu    sync.RWMutex
	registry map[string]CallbackFunc
	sealed   atomic.Bool

	subMu       sync.RWMutex
	subscribers []Subscriber

	started atomic.Bool
	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Buffer with the given options. Defaults: in-memory
// pending store, in-memory backend, Immediate strategy, no logging,
// no metrics.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		strategy:        Immediate,
		interval:        10 * time.Second,
		dispatchTimeout: 30 * time.Second,
		log:             zerolog.Nop(),
		registry:        make(map[string]CallbackFunc),
		kick:            make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	if b.store == nil {
		b.store = store.NewMemoryStore()
	}
	if b.backend == nil {
		b.backend = backend.NewMemoryBackend()
	}
	if b.scheduler == nil {
		b.scheduler = &goScheduler{log: b.log.With().Str("component", "scheduler").Logger()}
	}
	if b.strategy == Threshold && b.threshold <= 0 {
		b.threshold = 100
	}
	return b
}

// RegisterCallback registers a named capability. Names are registered at
// most once; a second registration for the same name is a configuration
// error. The registry seals when Start is called.
func (b *Buffer) RegisterCallback(name string, fn CallbackFunc) error {
	if b.sealed.Load() {
		return fmt.Errorf("%w: %q", ErrRegistrySealed, name)
	}

	b.regMu.Lock()
	defer b.regMu.Unlock()

	if _, ok := b.registry[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCallback, name)
	}
	b.registry[name] = fn
	return nil
}

// Subscribe adds a completion-event subscriber.
func (b *Buffer) Subscribe(fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Incr records a set of column deltas for the row identified by kind and
// filters, with optional non-counter field overwrites in extra. Repeated
// calls for the same identity coalesce: deltas sum per column and the
// most recent extra value wins per field. extra may be nil.
//
// With the Immediate strategy the update is handed straight to the
// scheduler for dispatch; otherwise it is merged into the pending store
// and Incr returns without blocking on I/O to the backend.
func (b *Buffer) Incr(ctx context.Context, kind string, columns map[string]int64, filters map[string]string, extra map[string]string) error {
	id := NewIdentity(kind, columnNames(columns), filters)

	if b.strategy == Immediate {
		cols := cloneInt64s(columns)
		ext := cloneStrings(extra)
		b.scheduler.Submit(ctx, func(ctx context.Context) error {
			_, err := b.ProcessIncr(ctx, kind, cols, id.Filters(), ext)
			return err
		})
		return nil
	}

	err := b.store.Add(ctx, store.Entry{
		Key:     id.Key(),
		Kind:    kind,
		Filters: id.Filters(),
		Deltas:  columns,
		Extra:   extra,
	})
	if err != nil {
		return err
	}
	b.metrics.incrBuffered()

	if b.strategy == Threshold && b.threshold > 0 {
		n, err := b.store.Len(ctx)
		if err == nil && n >= b.threshold {
			select {
			case b.kick <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Apply records a value for a registered callback. The value accumulates
// with any previously recorded values for the same name and is delivered
// on the next flush. Applying a name that was never registered is a
// configuration error.
func (b *Buffer) Apply(ctx context.Context, name string, value string) error {
	b.regMu.RLock()
	_, ok := b.registry[name]
	b.regMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCallback, name)
	}

	if b.strategy == Immediate {
		b.scheduler.Submit(ctx, func(ctx context.Context) error {
			return b.ProcessCallback(ctx, name, value)
		})
		return nil
	}

	return b.store.AddCallback(ctx, name, value)
}

// ProcessIncr applies one coalesced update to the backend: the row
// matching kind and filters is incremented per column, or created with
// the deltas as initial values if absent. Extra fields are overwritten.
// On success a completion event is broadcast to subscribers. Reports
// whether the row was newly created.
//
// ProcessIncr is the dispatch entry point and is safe to call from an
// external at-least-once task queue; redelivery of the same coalesced
// update applies it again (see the package documentation).
func (b *Buffer) ProcessIncr(ctx context.Context, kind string, columns map[string]int64, filters map[string]string, extra map[string]string) (bool, error) {
	return b.dispatch(ctx, uuid.NewString(), store.Entry{
		Kind:    kind,
		Filters: filters,
		Deltas:  columns,
		Extra:   extra,
	})
}

// Process applies one coalesced update to the backend.
//
// Deprecated: use [Buffer.ProcessIncr]. Process remains for callers that
// predate the rename and will be removed after a migration cycle.
func (b *Buffer) Process(ctx context.Context, kind string, columns map[string]int64, filters map[string]string, extra map[string]string) (bool, error) {
	b.log.Warn().Msg("buffer.Process is deprecated, use buffer.ProcessIncr")
	return b.ProcessIncr(ctx, kind, columns, filters, extra)
}

// ProcessCallback invokes the callback registered under name with the
// given values. It fails without invoking anything if name was never
// registered.
func (b *Buffer) ProcessCallback(ctx context.Context, name string, values ...string) error {
	b.regMu.RLock()
	fn, ok := b.registry[name]
	b.regMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCallback, name)
	}

	b.metrics.callbackInvoked()
	if err := fn(ctx, values); err != nil {
		return fmt.Errorf("buffer: callback %q: %w", name, err)
	}
	return nil
}

// ProcessPending drains the pending store and dispatches everything it
// held: coalesced increments to the backend and accumulated callback
// values to their registered callbacks. Entries added while the drain is
// in progress stay pending for the next call. Dispatch failures are
// collected and returned; the drained batch is not re-queued, so a
// caller running under an at-least-once scheduler should surface the
// error to trigger redelivery.
func (b *Buffer) ProcessPending(ctx context.Context) error {
	start := time.Now()
	batchID := uuid.NewString()

	// A failed drain may still hand back entries it already took; those
	// are gone from the pending store and must be dispatched now or the
	// increments are lost, so the error never short-circuits dispatch.
	entries, err := b.store.Drain(ctx)
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("buffer: drain: %w", err))
	}
	for _, e := range entries {
		if _, err := b.dispatch(ctx, batchID, e); err != nil {
			errs = append(errs, err)
		}
	}

	callbacks, err := b.store.DrainCallbacks(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("buffer: drain callbacks: %w", err))
	}
	for name, values := range callbacks {
		if err := b.ProcessCallback(ctx, name, values...); err != nil {
			errs = append(errs, err)
		}
	}

	b.metrics.flushObserved(len(entries), time.Since(start))
	if len(entries) > 0 || len(callbacks) > 0 {
		b.log.Debug().
			Str("batch_id", batchID).
			Int("entries", len(entries)).
			Int("callbacks", len(callbacks)).
			Dur("duration", time.Since(start)).
			Msg("flushed pending updates")
	}
	return errors.Join(errs...)
}

// Validate checks that the configured backend (and the pending store, if
// it supports validation) is usable. Call it once at startup to surface
// connection problems early.
func (b *Buffer) Validate(ctx context.Context) error {
	if err := b.backend.Validate(ctx); err != nil {
		return err
	}
	if v, ok := b.store.(interface{ Validate(context.Context) error }); ok {
		return v.Validate(ctx)
	}
	return nil
}

// Start seals the callback registry and, for the Interval and Threshold
// strategies, starts the background flush loop. It is a no-op if the
// buffer is already started.
func (b *Buffer) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.sealed.Store(true)

	if b.strategy == Immediate {
		return
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go b.flushLoop()

	b.log.Info().
		Stringer("strategy", b.strategy).
		Dur("interval", b.interval).
		Int("threshold", b.threshold).
		Msg("flush loop started")
}

// Stop stops the flush loop after one final drain of the pending store.
// It is a no-op for the Immediate strategy and if Start was never called.
// The callback registry stays sealed: registrations are process-lifetime
// and do not reopen on shutdown.
func (b *Buffer) Stop() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
}

// Close stops the buffer and releases the pending store and backend.
func (b *Buffer) Close() error {
	b.Stop()
	return errors.Join(b.store.Close(), b.backend.Close())
}

// flushLoop drains the pending store on a timer and, for the Threshold
// strategy, whenever Incr signals that the threshold was reached. The
// timer always runs so a store that stops growing is still flushed.
func (b *Buffer) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			// Final drain so nothing pending is stranded on shutdown.
			ctx, cancel := context.WithTimeout(context.Background(), b.dispatchTimeout)
			if err := b.ProcessPending(ctx); err != nil {
				b.log.Error().Err(err).Msg("final flush failed")
			}
			cancel()
			return
		case <-b.kick:
		case <-ticker.C:
		}

		// Detached from b.ctx so a Stop during an active flush does not
		// abort dispatch of already-drained entries.
		ctx, cancel := context.WithTimeout(context.Background(), b.dispatchTimeout)
		if err := b.ProcessPending(ctx); err != nil {
			b.log.Error().Err(err).Msg("flush failed")
		}
		cancel()
	}
}

// dispatch applies one coalesced entry to the backend with bounded
// retries, then broadcasts the completion event.
func (b *Buffer) dispatch(ctx context.Context, batchID string, e store.Entry) (bool, error) {
	u := backend.Update{
		Kind:    e.Kind,
		Filters: e.Filters,
		Deltas:  e.Deltas,
		Extra:   e.Extra,
	}

	var created bool
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.dispatchTimeout
	err := backoff.Retry(func() error {
		var err error
		created, err = b.backend.Upsert(ctx, u)
		if err != nil && backend.IsPermanent(err) {
			// Configuration errors cannot succeed on retry.
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		b.metrics.dispatchFailed()
		return false, fmt.Errorf("buffer: upsert %s: %w", e.Kind, err)
	}

	b.emit(Completion{
		BatchID: batchID,
		Kind:    e.Kind,
		Filters: e.Filters,
		Columns: e.Deltas,
		Extra:   e.Extra,
		Created: created,
	})
	return created, nil
}

// emit broadcasts a completion event. Delivery is robust: a subscriber
// that returns an error or panics is logged and the remaining
// subscribers still run.
func (b *Buffer) emit(c Completion) {
	b.subMu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.subMu.RUnlock()

	for i, fn := range subs {
		b.deliver(i, fn, c)
	}
}

func (b *Buffer) deliver(i int, fn Subscriber, c Completion) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.subscriberPanicked()
			b.log.Error().
				Int("subscriber", i).
				Interface("panic", r).
				Msg("completion subscriber panicked")
		}
	}()

	if err := fn(c); err != nil {
		b.log.Error().
			Int("subscriber", i).
			Err(err).
			Msg("completion subscriber failed")
	}
}

func columnNames(columns map[string]int64) []string {
	out := make([]string, 0, len(columns))
	for col := range columns {
		out = append(out, col)
	}
	return out
}

func cloneInt64s(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
