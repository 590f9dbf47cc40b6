// Package host runs one actor per key and serializes everything that happens
// to it.
//
// Concurrency model:
//   - Each active key owns a single goroutine that drains an unbounded FIFO
//     mailbox. System.Do enqueues a function and waits for its result.
//   - Actors are spawned lazily on first use. Behavior.Activate runs on the
//     actor goroutine before any queued task.
//   - Each actor has at most one alarm. SetAlarm replaces the pending one.
//     When it elapses the fire is queued like any other task, so Behavior.OnAlarm
//     never races an operation on the same key. Fires from replaced or deleted
//     alarms are dropped.
//   - An actor with an empty mailbox, no alarm, and an idle Behavior is
//     passivated after the idle timeout. Its Behavior is discarded; durable
//     state lives in the store.
//
// Time comes from a clockwork.Clock so tests can drive alarms with a fake clock.
package host
