package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/redis/go-redis/v9"
)

// maxNotifications bounds the per-user list
const maxNotifications = 200

func notificationsKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

func readMarkerKey(userID string) string {
	return fmt.Sprintf("notifications:%s:read_at", userID)
}

// NotificationStore persists user-facing notifications for later polling
type NotificationStore struct {
	client *redis.Client
}

// NewNotificationStore creates a notification store on an existing connection
func NewNotificationStore(client *Client) *NotificationStore {
	return &NotificationStore{client: client.client}
}

// Create stores a notification, newest first
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification requires a user id")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := notificationsKey(n.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxNotifications-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}

// List returns up to limit notifications for a user, newest first.
// IsRead is derived from the user's read marker.
func (s *NotificationStore) List(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 || limit > maxNotifications {
		limit = maxNotifications
	}

	pipe := s.client.Pipeline()
	listCmd := pipe.LRange(ctx, notificationsKey(userID), 0, int64(limit-1))
	markerCmd := pipe.Get(ctx, readMarkerKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	var readAt int64
	if markerCmd.Err() == nil {
		readAt, _ = markerCmd.Int64()
	}

	raw := listCmd.Val()
	notifications := make([]*models.Notification, 0, len(raw))
	for _, r := range raw {
		n := &models.Notification{}
		if err := json.Unmarshal([]byte(r), n); err != nil {
			return nil, fmt.Errorf("failed to decode notification: %w", err)
		}
		n.IsRead = n.CreatedAt.UnixMilli() <= readAt
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// MarkAllRead marks every notification created up to now as read
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, now time.Time) error {
	if err := s.client.Set(ctx, readMarkerKey(userID), now.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return nil
}
