// Package goflows provides the concurrency-coordination primitives shared by
// streaming connectors: admission control, pooling, batching, adaptive fan-out
// and acknowledgment tracking.
//
// The main components include:
//
//   - Semaphore: permit-counted admission control, with a local in-process
//     variant (LocalSemaphore) and a lease-based variant (LeasedSemaphore)
//     whose permits self-expire so a crashed holder cannot starve the pool
//   - Pool: a bounded object pool with lazy creation and age-based recycling
//     of resources that outlive their configured maximum duration
//   - Chunker: groups an item stream into batches by count or time window,
//     with a guaranteed flush of the remainder at end of stream
//   - AdaptiveMapper: applies an async transform to polled items with a
//     worker count that grows while the upstream is productive and falls
//     back when it runs dry
//   - OffsetTracker: per-batch acknowledgment bookkeeping that fires a
//     batch-complete callback exactly once, when every record has been acked
//   - Throttle: a rate-paced pass-through between two channels
//   - Pipeline: composition glue wiring a poll source through the mapper and
//     chunker into a sink
//
// Components that run their own goroutines start as soon as they are created
// and are torn down with Stop; completion is observable via ClosedChan.
// Channels between stages are unbuffered unless configured otherwise, so
// backpressure propagates all the way back to the producer.
package goflows
