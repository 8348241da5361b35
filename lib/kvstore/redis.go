package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RedisStore keeps every value as a plain string key, optionally behind a
// namespace so several deployments can share one redis.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func OpenRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func (s *RedisStore) fullKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *RedisStore) Read(ctx context.Context, key string, out any) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis:Read")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	serialized, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get redis key")
		return false, err
	}
	return true, decode(key, serialized, out)
}

func (s *RedisStore) Write(ctx context.Context, key string, value any) error {
	ctx, span := tracer.Start(ctx, "redis:Write")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	serialized, err := encode(key, value)
	if err != nil {
		return err
	}
	err = s.client.Set(ctx, s.fullKey(key), serialized, 0).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set redis key")
		return err
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func (s *RedisStore) Keys(ctx context.Context, prefix, suffix string) ([]string, error) {
	match := globEscaper.Replace(s.fullKey(prefix)) + "*" + globEscaper.Replace(suffix)
	trim := s.fullKey("")
	if s.namespace == "" {
		trim = ""
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), trim))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
