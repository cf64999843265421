// Package push implements the best-effort push-notification collaborator.
// The Redis implementation publishes to a per-user channel that the
// notification dispatch service consumes; the no-op implementation serves
// tests and redis-less deployments.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix is the Redis channel prefix for per-user push
// notifications.
const DefaultChannelPrefix = "push:user:"

// RedisNotifier publishes notification payloads to Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisNotifier creates a notifier over an existing Redis client. An
// empty prefix selects DefaultChannelPrefix.
func NewRedisNotifier(client *redis.Client, prefix string, logger *slog.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

// Notify publishes the payload to the user's notification channel.
func (n *RedisNotifier) Notify(ctx context.Context, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if err := n.client.Publish(ctx, n.prefix+userID, data).Err(); err != nil {
		return fmt.Errorf("publish notification for %s: %w", userID, err)
	}
	n.logger.Debug("push notification published", "userId", userID)
	return nil
}

// Nop is a notifier that drops every notification.
type Nop struct{}

// Notify discards the payload.
func (Nop) Notify(context.Context, string, any) error { return nil }
