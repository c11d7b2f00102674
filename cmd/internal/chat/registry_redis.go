package chat

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps the live connection set in one Redis set, so every service
// instance behind a dispatcher sees the same membership.
type RedisRegistry struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRegistry constructs a Redis-backed ConnectionRegistry. The client is owned by the caller.
func NewRedisRegistry(client redis.UniversalClient, opts ...RedisOption) (*RedisRegistry, error) {
	st, err := applyRedisOptions(client, opts)
	if err != nil {
		return nil, err
	}
	return &RedisRegistry{client: client, key: st.prefix + ":connections"}, nil
}

// Add is SADD; re-adding a member is a no-op.
func (r *RedisRegistry) Add(ctx context.Context, connectionID string) error {
	if r == nil || r.client == nil {
		return errors.New("chat: nil registry")
	}
	if err := validateConnectionID(connectionID); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, r.key, connectionID).Err(); err != nil {
		return unavailable("sadd", err)
	}
	return nil
}

// Remove is SREM; removing an absent member is a no-op.
func (r *RedisRegistry) Remove(ctx context.Context, connectionID string) error {
	if r == nil || r.client == nil {
		return errors.New("chat: nil registry")
	}
	if connectionID == "" {
		return nil
	}
	if err := r.client.SRem(ctx, r.key, connectionID).Err(); err != nil {
		return unavailable("srem", err)
	}
	return nil
}

// ListAll is SMEMBERS, sorted.
func (r *RedisRegistry) ListAll(ctx context.Context) ([]string, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("chat: nil registry")
	}
	ids, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, unavailable("smembers", err)
	}
	sort.Strings(ids)
	return ids, nil
}
