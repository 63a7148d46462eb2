package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	goIdentity "github.com/MrEthical07/goIdentity"
)

const (
	DefaultStream = "goidentity:notifications"
	DefaultGroup  = "goidentity-relay"
)

var ErrStreamUnavailable = errors.New("notification stream unavailable")

// StreamDispatcher appends messages to a Redis stream. Delivery happens
// later in a Relay, so a slow mail provider never holds up a request.
type StreamDispatcher struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamDispatcher writes to stream, trimming it to roughly maxLen
// entries. A maxLen of zero disables trimming.
func NewStreamDispatcher(client redis.UniversalClient, stream string, maxLen int64) *StreamDispatcher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamDispatcher{redis: client, stream: stream, maxLen: maxLen}
}

func (d *StreamDispatcher) Send(ctx context.Context, email string, kind goIdentity.TemplateKind, payload map[string]string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").With("template", string(kind)).Wrap(err)
	}

	args := &redis.XAddArgs{
		Stream: d.stream,
		ID:     "*",
		Values: map[string]any{
			"id":         uuid.NewString(),
			"email":      email,
			"kind":       string(kind),
			"payload":    string(encoded),
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if d.maxLen > 0 {
		args.MaxLen = d.maxLen
		args.Approx = true
	}

	if err := d.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	return nil
}

// Relay moves messages from the stream outbox to a real dispatcher through
// a consumer group. A message is acknowledged only after delivery
// succeeds; failed ones stay pending and are retried when the relay
// restarts.
type Relay struct {
	redis    redis.UniversalClient
	target   goIdentity.NotificationDispatcher
	logger   *slog.Logger
	stream   string
	group    string
	consumer string
	block    time.Duration
	batch    int64
}

type RelayOption func(*Relay)

func WithRelayStream(stream, group string) RelayOption {
	return func(r *Relay) {
		if stream != "" {
			r.stream = stream
		}
		if group != "" {
			r.group = group
		}
	}
}

func WithRelayConsumer(name string) RelayOption {
	return func(r *Relay) {
		if name != "" {
			r.consumer = name
		}
	}
}

func WithRelayBlock(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.block = d
		}
	}
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRelay(client redis.UniversalClient, target goIdentity.NotificationDispatcher, opts ...RelayOption) *Relay {
	r := &Relay{
		redis:    client,
		target:   target,
		logger:   slog.Default(),
		stream:   DefaultStream,
		group:    DefaultGroup,
		consumer: "relay-" + uuid.NewString()[:8],
		block:    time.Second,
		batch:    16,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "notify_relay", "stream", r.stream)
	return r
}

// Run delivers messages until ctx ends. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ensureGroup(ctx); err != nil {
		return err
	}

	// Entries this consumer read but never acknowledged before a restart.
	if _, err := r.poll(ctx, "0", 0); err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "pending notification replay failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := r.poll(ctx, ">", r.block); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.WarnContext(ctx, "notification poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.block):
			}
		}
	}
}

// Drain delivers whatever is queued right now without blocking and reports
// how many messages were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	if err := r.ensureGroup(ctx); err != nil {
		return 0, err
	}
	return r.poll(ctx, ">", -1)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.redis.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}
	return nil
}

// poll reads one batch. A negative block means do not block.
func (r *Relay) poll(ctx context.Context, start string, block time.Duration) (int, error) {
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, start},
		Count:    r.batch,
		Block:    block,
	}
	if start == "0" || block < 0 {
		args.Block = -1
	}

	streams, err := r.redis.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}

	delivered := 0
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msg, err := decodeMessage(entry)
			if err != nil {
				r.logger.ErrorContext(ctx, "dropping malformed notification", "entry_id", entry.ID, "error", err)
				r.ack(ctx, entry.ID)
				continue
			}
			if err := r.target.Send(ctx, msg.Email, msg.Kind, msg.Payload); err != nil {
				r.logger.WarnContext(ctx, "notification delivery failed",
					"entry_id", entry.ID, "template", string(msg.Kind), "error", err)
				continue
			}
			r.ack(ctx, entry.ID)
			delivered++
		}
	}
	return delivered, nil
}

func (r *Relay) ack(ctx context.Context, id string) {
	if err := r.redis.XAck(ctx, r.stream, r.group, id).Err(); err != nil {
		r.logger.WarnContext(ctx, "notification ack failed", "entry_id", id, "error", err)
	}
}

func decodeMessage(entry redis.XMessage) (Message, error) {
	str := func(key string) string {
		v, _ := entry.Values[key].(string)
		return v
	}

	msg := Message{
		ID:    str("id"),
		Email: str("email"),
		Kind:  goIdentity.TemplateKind(str("kind")),
	}
	if msg.Email == "" || msg.Kind == "" {
		return Message{}, errors.New("missing email or template")
	}
	if raw := str("payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Payload); err != nil {
			return Message{}, err
		}
	}
	if ts := str("created_at"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.CreatedAt = parsed
		}
	}
	return msg, nil
}
