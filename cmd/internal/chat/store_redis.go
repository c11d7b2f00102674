package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a MessageStore backed by one Redis list per room.
//
// RPUSH is the atomic counter: the length it returns is the position of the new
// element, and list positions are the message indices. The list is never trimmed,
// so positions stay stable and RecentMessages can address them directly.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    nowFunc
}

type redisRecord struct {
	Timestamp int64  `json:"ts"`
	Username  string `json:"u"`
	Content   string `json:"c"`
}

// NewRedisStore constructs a Redis-backed MessageStore. The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	st, err := applyRedisOptions(client, opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, prefix: st.prefix, now: systemNow}, nil
}

// Close is a no-op because the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) roomKey(room string) string {
	return fmt.Sprintf("%s:room:{%s}:messages", s.prefix, room)
}

// Append pushes the record and derives its index from the list length.
func (s *RedisStore) Append(ctx context.Context, room, username, content string) (Message, error) {
	if s == nil || s.client == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := validateAppend(room, username, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	rec := redisRecord{Timestamp: s.now().Unix(), Username: username, Content: content}
	b, err := json.Marshal(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode record: %w", err)
	}

	n, err := s.client.RPush(ctx, s.roomKey(room), b).Result()
	if err != nil {
		return Message{}, unavailable("rpush", err)
	}

	return Message{
		Room:      room,
		Index:     n - 1,
		Timestamp: rec.Timestamp,
		Username:  username,
		Content:   content,
	}, nil
}

// RecentMessages reads the tail of the room list, oldest first.
func (s *RedisStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecentLimit(limit)
	key := s.roomKey(room)

	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, unavailable("llen", err)
	}
	if n == 0 {
		return []Message{}, nil
	}

	start := n - int64(limit)
	if start < 0 {
		start = 0
	}

	// Explicit end: appends racing this read land after n-1 and are not returned.
	raw, err := s.client.LRange(ctx, key, start, n-1).Result()
	if err != nil {
		return nil, unavailable("lrange", err)
	}

	out := make([]Message, 0, len(raw))
	for i, item := range raw {
		var rec redisRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", start+int64(i), err)
		}
		out = append(out, Message{
			Room:      room,
			Index:     start + int64(i),
			Timestamp: rec.Timestamp,
			Username:  rec.Username,
			Content:   rec.Content,
		})
	}
	return out, nil
}
