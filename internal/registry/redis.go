package registry

import (
	"context"
	"errors"
	"fmt"

	"lan_presence/internal/dataType"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "presence:identity:"
	redisUpdateRetries = 64
)

// Redis stores CBOR encoded records under one key per identity. Updates use
// optimistic WATCH/MULTI transactions and retry when the key changes
// underneath them.
type Redis struct {
	client *redis.Client
}

func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("registry: parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("registry: redis ping failed: %w", err)
	}
	return NewRedis(client), nil
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(identity string) string {
	return redisKeyPrefix + identity
}

func (r *Redis) Create(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	rec := newRecord(identity)
	b, err := marshalRecord(rec)
	if err != nil {
		return dataType.IdentityRecord{}, err
	}
	ok, err := r.client.SetNX(ctx, redisKey(identity), b, 0).Result()
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: setnx %s: %w", identity, err)
	}
	if !ok {
		return dataType.IdentityRecord{}, ErrAlreadyExists
	}
	return rec, nil
}

func (r *Redis) Get(ctx context.Context, identity string) (dataType.IdentityRecord, error) {
	return getRedisRecord(ctx, r.client, identity)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRedisRecord(ctx context.Context, c redisGetter, identity string) (dataType.IdentityRecord, error) {
	b, err := c.Get(ctx, redisKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dataType.IdentityRecord{}, ErrNotFound
	}
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("registry: get %s: %w", identity, err)
	}
	return unmarshalRecord(b)
}

func (r *Redis) Update(ctx context.Context, identity string, p dataType.Presence) (dataType.IdentityRecord, error) {
	key := redisKey(identity)
	var updated dataType.IdentityRecord

	txf := func(tx *redis.Tx) error {
		rec, err := getRedisRecord(ctx, tx, identity)
		if err != nil {
			return err
		}
		rec = rec.WithPresence(p)
		b, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return dataType.IdentityRecord{}, err
		}
		return updated, nil
	}
	return dataType.IdentityRecord{}, fmt.Errorf("registry: update %s: too much contention", identity)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
