// Package notifier delivers outbound chat messages asynchronously.
//
// Callers hand a transport.Notification to Notify, which returns as soon as the
// message is queued. Workers drain the queue through the transport adapter with a
// token-bucket rate limit and exponential retry with jitter. Delivery is best
// effort: failures are logged and published on the event bus, never returned.
//
// # Dedup
//
// A notification carrying the same dedup key as one accepted inside the dedup
// window is dropped. Keys default to a hash of channel and text; the
// scheduler supplies explicit keys (meeting, kind, minute) so a repeated tick does
// not announce a meeting twice. With PersistDedup the window survives restarts
// through the store.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered messages.
package notifier
