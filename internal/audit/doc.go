// Package audit carries login audit events from the flows to a sink.
//
// The package does not decide which events are emitted or how their
// messages are scrubbed; the engine does. It owns buffering and delivery:
//   - [Sink] consumers (zap logger, channel, JSON writer, no-op)
//   - [Dispatcher] buffered async relay with drop-if-full semantics
package audit
