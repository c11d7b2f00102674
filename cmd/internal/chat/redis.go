package chat

import (
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "murmur"

// RedisOption configures the Redis-backed store and registry.
type RedisOption func(*redisSettings) error

type redisSettings struct {
	prefix string
}

// WithKeyPrefix sets the key namespace (default: "murmur").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *redisSettings) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return errors.New("chat: empty redis key prefix")
		}
		s.prefix = strings.TrimSuffix(prefix, ":")
		return nil
	}
}

func applyRedisOptions(client redis.UniversalClient, opts []RedisOption) (redisSettings, error) {
	st := redisSettings{prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&st); err != nil {
			return redisSettings{}, err
		}
	}
	if client == nil {
		return redisSettings{}, errors.New("chat: nil redis client")
	}
	return st, nil
}
