package goIdentity

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
)

// AuditEvent is one structured audit record. Secrets (passwords, OTPs,
// tokens) never appear in it.
type AuditEvent = internalaudit.Event

// AuditSink receives events from the Engine's asynchronous dispatcher.
type AuditSink = internalaudit.Sink

type (
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	SlogSink       = internalaudit.SlogSink
	MultiSink      = internalaudit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink writes audit events as structured log records.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
