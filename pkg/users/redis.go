package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per user ("<prefix>user:<id>"), a set of known
// IDs ("<prefix>users") and a counter ("<prefix>total_images").
type RedisStore struct {
	client *redis.Client
	prefix string
	Clock  Clock
}

// NewRedisStore connects to the Redis server at url (redis://host:port/db).
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) userKey(id int64) string {
	return s.prefix + "user:" + strconv.FormatInt(id, 10)
}

func (s *RedisStore) setKey() string   { return s.prefix + "users" }
func (s *RedisStore) totalKey() string { return s.prefix + "total_images" }

func (s *RedisStore) Track(ctx context.Context, id int64, username string) error {
	now := s.Clock.now().UTC().Format(time.RFC3339Nano)
	key := s.userKey(id)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "first_seen", now)
		pipe.HSetNX(ctx, key, "images_processed", 0)
		pipe.HSet(ctx, key, "username", username, "last_active", now)
		pipe.SAdd(ctx, s.setKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track user %d: %w", id, err)
	}
	return nil
}

func (s *RedisStore) IncrementImages(ctx context.Context, id int64) error {
	key := s.userKey(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("increment images for %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "images_processed", 1)
		pipe.Incr(ctx, s.totalKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment images for %d: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (*User, error) {
	fields, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	u := userFromHash(id, fields)
	return &u, nil
}

func (s *RedisStore) List(ctx context.Context) ([]User, error) {
	members, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.userKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	list := make([]User, 0, len(ids))
	for i, id := range ids {
		if fields := cmds[i].Val(); len(fields) > 0 {
			list = append(list, userFromHash(id, fields))
		}
	}
	return list, nil
}

func (s *RedisStore) TotalImages(ctx context.Context) (int64, error) {
	n, err := s.client.Get(ctx, s.totalKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("total images: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func userFromHash(id int64, fields map[string]string) User {
	n, _ := strconv.ParseInt(fields["images_processed"], 10, 64)
	return User{
		ID:              id,
		Username:        fields["username"],
		FirstSeen:       parseTime(fields["first_seen"]),
		LastActive:      parseTime(fields["last_active"]),
		ImagesProcessed: n,
	}
}

var _ Store = (*RedisStore)(nil)
