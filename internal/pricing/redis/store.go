// Package redis stores the refreshed price snapshot in Redis so restarts
// and sibling instances reuse it instead of refetching.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/conduit/internal/observability"
	"github.com/davidbz/conduit/internal/pricing"
)

const (
	// DefaultKey is the key holding the snapshot document.
	DefaultKey = "conduit:pricing:snapshot"

	fetchedAtField = "fetched_at"
	dataField      = "data"
)

// SnapshotStore implements pricing.SnapshotStore on a Redis hash.
type SnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotStore creates a store. A zero ttl keeps the snapshot until
// it is replaced.
func NewSnapshotStore(client *redis.Client, key string, ttl time.Duration) *SnapshotStore {
	if key == "" {
		key = DefaultKey
	}
	return &SnapshotStore{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Load returns the stored snapshot or pricing.ErrNoSnapshot.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	values, err := s.client.HMGet(ctx, s.key, dataField, fetchedAtField).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	data, ok := values[0].(string)
	if !ok || data == "" {
		return nil, pricing.ErrNoSnapshot
	}

	if fetchedAt, isString := values[1].(string); isString {
		observability.FromContext(ctx).Debug("loaded stored price snapshot",
			observability.String("key", s.key),
			observability.String("fetched_at", fetchedAt),
			observability.Int("bytes", len(data)))
	}

	return []byte(data), nil
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return errors.New("snapshot cannot be empty")
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key,
			dataField, data,
			fetchedAtField, time.Now().UTC().Format(time.RFC3339))
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	observability.FromContext(ctx).Info("stored price snapshot",
		observability.String("key", s.key),
		observability.Int("bytes", len(data)))
	return nil
}

// Clear removes the stored snapshot.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}
