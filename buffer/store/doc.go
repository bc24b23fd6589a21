// Package store defines the [Store] interface for pending-update backends
// and provides two implementations:
//
//   - [MemoryStore]: fast, in-process coalescing; pending updates are lost
//     on restart.
//   - [RedisStore]: shared coalescing across processes, backed by Redis
//     hashes and a pending-key set.
//
// Custom backends can be created by implementing the [Store] interface.
package store
