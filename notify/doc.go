// Package notify provides goIdentity.NotificationDispatcher implementations.
//
//   - [LogDispatcher] writes messages to a slog.Logger, for development.
//   - [StreamDispatcher] appends messages to a Redis stream outbox, and
//     [Relay] drains that outbox through a consumer group into another
//     dispatcher (an SMTP or provider client in production).
//   - [ChannelDispatcher] hands messages to a channel, for tests.
//
// Payloads carry secrets such as one-time codes. Dispatchers never log
// payload values unless explicitly told to.
package notify
