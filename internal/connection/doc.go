// Package connection keeps one authenticated WebSocket connection alive.
//
// The Manager is an actor: a single goroutine owns the state machine and consumes an event
// channel fed by public commands (Start, Stop), dial and read goroutines, and clockwork timers
// (connect watchdog, retry backoff). Every event carries the attempt ID or epoch it belongs to,
// so events that outlive their attempt are dropped instead of driving a second transition.
package connection
