package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// ChannelDispatcher hands every message to C. Send blocks until the message
// is received or ctx ends.
type ChannelDispatcher struct {
	C chan Message
}

func NewChannelDispatcher(buffer int) *ChannelDispatcher {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelDispatcher{C: make(chan Message, buffer)}
}

func (d *ChannelDispatcher) Send(ctx context.Context, email string, kind goIdentity.TemplateKind, payload map[string]string) error {
	msg := Message{
		ID:        uuid.NewString(),
		Email:     email,
		Kind:      kind,
		Payload:   clonePayload(payload),
		CreatedAt: time.Now().UTC(),
	}

	select {
	case d.C <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
