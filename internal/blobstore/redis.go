package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document in a hash {content, version, message,
// updated_at}. Writes run under WATCH so a concurrent writer aborts the
// transaction instead of being overwritten.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(path string) string {
	return s.prefix + path
}

func (s *RedisStore) Get(ctx context.Context, path string) (*Document, error) {
	vals, err := s.client.HMGet(ctx, s.key(path), "content", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", path, err)
	}
	content, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	version, _ := vals[1].(string)
	return &Document{Data: []byte(content), Version: version}, nil
}

func (s *RedisStore) Put(ctx context.Context, path string, data []byte, expectedVersion, message string) (string, error) {
	key := s.key(path)
	var newVersion string

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		switch {
		case expectedVersion == "" && exists:
			return ErrVersionConflict
		case expectedVersion != "" && !exists:
			return ErrNotFound
		case expectedVersion != "" && current != expectedVersion:
			return ErrVersionConflict
		}

		next := int64(1)
		if exists {
			n, err := strconv.ParseInt(current, 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt version %q", current)
			}
			next = n + 1
		}
		newVersion = strconv.FormatInt(next, 10)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"content", data,
				"version", newVersion,
				"message", message,
				"updated_at", time.Now().Unix(),
			)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return newVersion, nil
	case errors.Is(err, redis.TxFailedErr):
		return "", ErrVersionConflict
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrNotFound):
		return "", err
	}
	return "", fmt.Errorf("redis put %s: %w", path, err)
}
