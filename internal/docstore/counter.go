package docstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a per-user tally.
type Counter struct {
	UserID    string    `json:"userId"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Store) counterKey(userID string) string {
	return s.key("counter", userID)
}

// Counter returns the user's counter. A user who never counted is at zero.
func (s *Store) Counter(ctx context.Context, userID string) (*Counter, error) {
	fields, err := s.client.HGetAll(ctx, s.counterKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting counter: %w", err)
	}

	c := &Counter{UserID: userID}
	if v, ok := fields["value"]; ok {
		if c.Value, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parsing counter value: %w", err)
		}
	}
	if ts, ok := fields["updated_at"]; ok {
		if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing counter timestamp: %w", err)
		}
	}
	return c, nil
}

// IncrementCounter adds amount to the user's counter atomically.
func (s *Store) IncrementCounter(ctx context.Context, userID string, amount int64) (*Counter, error) {
	key := s.counterKey(userID)
	now := s.now().UTC()

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "value", amount)
		pipe.HSet(ctx, key, "updated_at", now.Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("incrementing counter: %w", err)
	}
	return &Counter{UserID: userID, Value: incr.Val(), UpdatedAt: now}, nil
}

// ResetCounter sets the user's counter back to zero.
func (s *Store) ResetCounter(ctx context.Context, userID string) (*Counter, error) {
	now := s.now().UTC()
	err := s.client.HSet(ctx, s.counterKey(userID),
		"value", 0,
		"updated_at", now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("resetting counter: %w", err)
	}
	return &Counter{UserID: userID, UpdatedAt: now}, nil
}
