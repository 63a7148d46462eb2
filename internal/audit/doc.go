// Package audit delivers identity events (registration, recovery and session
// changes) to pluggable sinks without blocking the request path.
//
// # Components
//
//   - [Event]: the audit record. Secrets never appear in it.
//   - [Sink]: event consumer. Implementations: NoOp, Channel, JSON writer,
//     slog, and a fan-out MultiSink.
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full
//     semantics and dropped/delivered counters.
//
// The package does not decide which events to emit. That belongs to the
// Engine and the flow functions.
package audit
