package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// UserStream is the Redis stream holding userID's notification inbox.
func UserStream(userID string) string {
	return "notify:user:" + userID
}

// streamAppender is satisfied by the Redis signal bus.
type streamAppender interface {
	StreamAppendWithID(ctx context.Context, stream, id string, payload []byte) error
}

// StreamChannel appends notifications to per-user Redis streams.
type StreamChannel struct {
	bus streamAppender
}

// NewStreamChannel creates a StreamChannel over bus.
func NewStreamChannel(bus streamAppender) *StreamChannel {
	return &StreamChannel{bus: bus}
}

func (c *StreamChannel) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("stream: marshal notification %s: %w", n.ID, err)
	}
	return c.bus.StreamAppendWithID(ctx, UserStream(n.UserID), n.ID, data)
}

func (c *StreamChannel) Name() string { return "redis_stream" }

// publisher is the subset of jetstream.JetStream used for delivery.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamConfig names the stream and subject prefix notifications go to.
type JetStreamConfig struct {
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// JetStreamChannel publishes each notification to
// {prefix}.{kind} with the notification ID as Nats-Msg-Id, so the server
// drops duplicates inside its dedupe window.
type JetStreamChannel struct {
	js     publisher
	prefix string
}

// NewJetStreamChannel ensures the stream exists and returns a channel that
// publishes to it.
func NewJetStreamChannel(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamChannel, error) {
	if cfg.Stream == "" {
		cfg.Stream = "AUCTION_NOTIFICATIONS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "auction.notify"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Auction notifications awaiting delivery to users",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: create stream %s: %w", cfg.Stream, err)
	}
	return &JetStreamChannel{js: js, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject a notification of kind is published on.
func (c *JetStreamChannel) Subject(kind domain.NotificationKind) string {
	return c.prefix + "." + string(kind)
}

func (c *JetStreamChannel) Deliver(ctx context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("jetstream: marshal notification %s: %w", n.ID, err)
	}
	if _, err := c.js.Publish(ctx, c.Subject(n.Kind), data, jetstream.WithMsgID(n.ID)); err != nil {
		return fmt.Errorf("jetstream: publish %s: %w", n.ID, err)
	}
	return nil
}

func (c *JetStreamChannel) Name() string { return "jetstream" }

// LogChannel writes notifications to the log. Used when no transport is
// configured.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With(slog.String("component", "notify_log"))}
}

func (c *LogChannel) Deliver(ctx context.Context, n domain.Notification) error {
	c.logger.InfoContext(ctx, "notification",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("item_id", n.ItemID),
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
	)
	return nil
}

func (c *LogChannel) Name() string { return "log" }
