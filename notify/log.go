package notify

import (
	"context"
	"log/slog"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// LogDispatcher logs each message instead of delivering it. Only payload
// keys are logged unless RevealPayload is set, which local development
// needs to read one-time codes.
type LogDispatcher struct {
	Logger        *slog.Logger
	RevealPayload bool
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{Logger: logger.With("component", "notify")}
}

func (d *LogDispatcher) Send(ctx context.Context, email string, kind goIdentity.TemplateKind, payload map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attrs := []any{
		"email", email,
		"template", string(kind),
		"payload_keys", payloadKeys(payload),
	}
	if d.RevealPayload {
		attrs = append(attrs, "payload", payload)
	}
	d.Logger.InfoContext(ctx, "notification", attrs...)
	return nil
}
