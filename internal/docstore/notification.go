package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notification types.
const (
	NotifyInfo    = "info"
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"
)

// ValidNotificationType reports whether t is a known notification type.
func ValidNotificationType(t string) bool {
	switch t {
	case NotifyInfo, NotifySuccess, NotifyWarning, NotifyError:
		return true
	}
	return false
}

// Notification is a message addressed to one user.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

func (n *Notification) expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

func (s *Store) notificationsKey(userID string) string {
	return s.key("notifications", userID)
}

// CreateNotification stores n for n.UserID and returns it with its id and
// creation time set.
func (s *Store) CreateNotification(ctx context.Context, n Notification) (*Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = s.now().UTC()
	n.Read = false
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}

	doc, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encoding notification: %w", err)
	}
	if err := s.client.HSet(ctx, s.notificationsKey(n.UserID), n.ID, doc).Err(); err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}
	return &n, nil
}

// Notifications lists a user's unexpired notifications, newest first.
func (s *Store) Notifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	docs, err := s.client.HGetAll(ctx, s.notificationsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	now := s.now()
	out := make([]Notification, 0, len(docs))
	for _, doc := range docs {
		var n Notification
		if err := json.Unmarshal([]byte(doc), &n); err != nil {
			return nil, fmt.Errorf("decoding notification: %w", err)
		}
		if n.expired(now) || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b Notification) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// MarkNotificationRead flags one of a user's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (*Notification, error) {
	key := s.notificationsKey(userID)
	var n Notification

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		doc, err := tx.HGet(ctx, key, id).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(doc), &n); err != nil {
			return fmt.Errorf("decoding notification: %w", err)
		}
		if n.expired(s.now()) {
			return ErrNotFound
		}
		n.Read = true
		updated, err := json.Marshal(n)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, updated)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marking notification read: %w", err)
	}
	return &n, nil
}

// DeleteNotification removes one of a user's notifications.
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	n, err := s.client.HDel(ctx, s.notificationsKey(userID), id).Result()
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
