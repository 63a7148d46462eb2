package notify

import (
	"context"
	"sort"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Message is one queued notification.
type Message struct {
	ID        string
	Email     string
	Kind      goIdentity.TemplateKind
	Payload   map[string]string
	CreatedAt time.Time
}

// DispatcherFunc adapts a function to goIdentity.NotificationDispatcher.
type DispatcherFunc func(ctx context.Context, email string, kind goIdentity.TemplateKind, payload map[string]string) error

func (f DispatcherFunc) Send(ctx context.Context, email string, kind goIdentity.TemplateKind, payload map[string]string) error {
	return f(ctx, email, kind, payload)
}

func payloadKeys(payload map[string]string) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clonePayload(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
