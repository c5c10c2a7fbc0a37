package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// listLimit caps how many activities a single query returns.
	listLimit = 100
	// retain is how many activities each feed keeps.
	retain = 10000
)

// Activity is a single user event.
type Activity struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CreateActivity stores a single activity, assigning its id and timestamp
// when missing, and returns what was stored.
func (s *Store) CreateActivity(ctx context.Context, a Activity) (*Activity, error) {
	s.stamp(&a)
	if err := s.BatchInsert(ctx, []Activity{a}); err != nil {
		return nil, err
	}
	return &a, nil
}

// BatchInsert writes activities to the global feed and to each user's feed
// in one pipeline. It is a no-op when acts is empty.
func (s *Store) BatchInsert(ctx context.Context, acts []Activity) error {
	if len(acts) == 0 {
		return nil
	}

	all := s.key("activities")
	touched := map[string]struct{}{all: {}}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range acts {
			a := acts[i]
			s.stamp(&a)
			doc, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encoding activity: %w", err)
			}
			member := redis.Z{Score: float64(a.Timestamp.UnixMilli()), Member: doc}
			pipe.ZAdd(ctx, all, member)
			if a.UserID != "" {
				feed := s.key("activities", "user", a.UserID)
				pipe.ZAdd(ctx, feed, member)
				touched[feed] = struct{}{}
			}
		}
		for key := range touched {
			pipe.ZRemRangeByRank(ctx, key, 0, -retain-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch inserting activities: %w", err)
	}
	return nil
}

// Activities returns the newest activities, optionally for one user only.
func (s *Store) Activities(ctx context.Context, userID string) ([]Activity, error) {
	key := s.key("activities")
	if userID != "" {
		key = s.key("activities", "user", userID)
	}
	return s.newest(ctx, key, listLimit)
}

// RecentActivities returns the newest limit activities across all users.
func (s *Store) RecentActivities(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 || limit > listLimit {
		limit = listLimit
	}
	return s.newest(ctx, s.key("activities"), limit)
}

func (s *Store) newest(ctx context.Context, key string, limit int) ([]Activity, error) {
	docs, err := s.client.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	acts := make([]Activity, 0, len(docs))
	for _, doc := range docs {
		var a Activity
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, fmt.Errorf("decoding activity: %w", err)
		}
		acts = append(acts, a)
	}
	return acts, nil
}

func (s *Store) stamp(a *Activity) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	if a.Data == nil {
		a.Data = map[string]any{}
	}
}

// UserEvent builds a server-side activity about a user.
func UserEvent(userID, typ string, data map[string]any) Activity {
	if data == nil {
		data = map[string]any{}
	}
	return Activity{UserID: userID, Type: typ, Data: data, Metadata: map[string]any{"source": "server"}}
}
