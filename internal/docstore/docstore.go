// Package docstore keeps the backend's schemaless documents in Redis:
// activity events, per-user notifications and per-user counters.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is a Redis-backed document store. All keys share a prefix so several
// deployments can share one Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Open connects to the Redis server at url (redis://...) and checks it is
// reachable.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	opts.DialTimeout = DefaultDialTimeout
	opts.ReadTimeout = DefaultReadTimeout
	opts.WriteTimeout = DefaultWriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}
