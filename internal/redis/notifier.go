package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/trivia-live/internal/config"
	"github.com/trivia-live/internal/domain"
)

// Notifier is the push side of the store: it publishes row-change events
// on a per-session pub/sub channel and hands out subscriptions to them.
// Delivery is at-least-once at best; subscribers rely on version-gated
// application plus fallback polling, never on this channel alone.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewNotifier creates a new change notifier backed by Redis pub/sub
func NewNotifier(cfg *config.RedisConfig, logger *slog.Logger) (*Notifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Notifier{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (n *Notifier) Close() error {
	return n.client.Close()
}

// Client returns the underlying Redis client
func (n *Notifier) Client() *redis.Client {
	return n.client
}

// channelKey returns the pub/sub channel for a session's change events
func (n *Notifier) channelKey(sessionID string) string {
	return fmt.Sprintf("session:%s:changes", sessionID)
}

// Publish emits a change event on the session's channel
func (n *Notifier) Publish(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling change event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channelKey(event.SessionID), data).Err(); err != nil {
		return fmt.Errorf("publishing change event: %w", err)
	}
	return nil
}

// Subscription is a confirmed pub/sub subscription to one session's
// change events. Its event channel closes when the underlying channel
// fails or the subscription is closed.
type Subscription struct {
	pubsub *redis.PubSub
	events chan domain.ChangeEvent
	logger *slog.Logger
}

// Subscribe opens a subscription for a session. It returns only after
// the server has confirmed the subscribe, so a nil error means the push
// channel is live.
func (n *Notifier) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := n.client.Subscribe(ctx, n.channelKey(sessionID))

	// Receive blocks until the subscribe is confirmed or fails.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to session channel: %w", err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan domain.ChangeEvent, 64),
		logger: n.logger,
	}
	go sub.pump()
	return sub, nil
}

// pump decodes raw pub/sub messages into change events until the
// underlying channel closes
func (s *Subscription) pump() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var event domain.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warn("dropping malformed change event", "error", err)
			continue
		}
		select {
		case s.events <- event:
		default:
			// Subscriber is not keeping up; drop. Polling covers the gap.
			s.logger.Warn("subscription buffer full, dropping event", "kind", event.Kind)
		}
	}
}

// Events returns the decoded change event stream
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close releases the subscription
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
