// Package buffer coalesces frequent small counter updates before they
// are applied to a backing store. When a single row is updated so fast
// that writing every increment through would overwhelm the database,
// the buffer merges the increments in a pending store and flushes the
// net result.
//
// # Key Concepts
//
//   - [Identity] names one logical counter row: entity kind, counter
//     columns, and the filter key/values that locate the row.
//   - [Buffer.Incr] records column deltas for an identity. Deltas for
//     the same identity sum; "extra" field overwrites are last-write-wins.
//   - [Strategy] controls flushing: Immediate (dispatch every update as
//     it arrives, the default), Interval (timer), or Threshold (size,
//     with a deadline guard).
//   - [store.Store] holds pending updates. An in-memory store is used by
//     default; a Redis-backed store shares pending state across processes.
//   - [backend.Backend] is the durable row store. Its single operation is
//     an atomic increment-or-create that reports whether the row was new.
//   - Callbacks registered with [Buffer.RegisterCallback] accumulate
//     values via [Buffer.Apply] and are invoked on flush.
//
// # Quick Start
//
//	buf := buffer.New(
//		buffer.WithStrategy(buffer.Interval),
//		buffer.WithFlushInterval(5*time.Second),
//		buffer.WithBackend(db),
//	)
//	buf.Start()
//	defer buf.Close()
//
//	buf.Incr(ctx, "project", map[string]int64{"times_seen": 1},
//		map[string]string{"id": "42"}, nil)
//
// # Delivery semantics
//
// Dispatch is at-least-once: a flush that fails is reported to its
// caller and an external scheduler may redeliver it, so the same
// already-coalesced update can reach the backend twice. Pair the backend
// with an idempotency mechanism if double-application matters. Within
// one process an identity is drained atomically and never appears in two
// concurrent batches; increments that arrive while a batch is in flight
// start a fresh pending entry.
package buffer
