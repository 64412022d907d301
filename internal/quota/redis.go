package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// maxTxAttempts bounds optimistic retries when a WATCHed key changes
// between read and write.
const maxTxAttempts = 10

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each record in the hash quota:<userID> with fields
// requestCount and date. Update uses WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(userID string) string { return "quota:" + userID }

func (s *RedisStore) Update(ctx context.Context, userID string, fn func(*Record) (bool, error)) error {
	k := key(userID)
	txf := func(tx *redis.Tx) error {
		r, err := readRecord(ctx, tx, k)
		if err != nil {
			return err
		}
		write, err := fn(&r)
		if err != nil || !write {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, k, "requestCount", r.Count, "date", r.PeriodStart)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("quota update for %s: gave up after %d conflicting transactions", userID, maxTxAttempts)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Record, error) {
	return readRecord(ctx, s.client, key(userID))
}

func (s *RedisStore) Create(ctx context.Context, userID string) (bool, error) {
	k := key(userID)
	created, err := s.client.HSetNX(ctx, k, "requestCount", 0).Result()
	if err != nil || !created {
		return false, err
	}
	return true, s.client.HSetNX(ctx, k, "date", 0).Err()
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readRecord(ctx context.Context, c hashReader, k string) (Record, error) {
	vals, err := c.HMGet(ctx, k, "requestCount", "date").Result()
	if err != nil {
		return Record{}, fmt.Errorf("reading %s: %w", k, err)
	}
	if vals[0] == nil {
		return Record{}, ErrNoSubscriptionData
	}
	var r Record
	if r.Count, err = strconv.Atoi(fmt.Sprint(vals[0])); err != nil {
		return Record{}, fmt.Errorf("%s requestCount: %w", k, err)
	}
	if vals[1] != nil {
		if r.PeriodStart, err = strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64); err != nil {
			return Record{}, fmt.Errorf("%s date: %w", k, err)
		}
	}
	return r, nil
}
