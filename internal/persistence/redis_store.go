package persistence

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/petrijr/flowtick/pkg/api"
)

// RedisRunStore is a RunStore backed by Redis. It uses a simple key
// structure:
//
//	<prefix>run:<id>  => msgpack-encoded run document
//	<prefix>due       => ZSET of schedulable run IDs scored by NextRunnableAt (unix ms)
//
// Only non-terminal runs with NextRunnableAt set are kept in the due set.
// ConditionalUpdate uses WATCH/MULTI on the run key, retrying when another
// writer touched the key between the read and the commit.
type RedisRunStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

var _ RunStore = (*RedisRunStore)(nil)

// NewRedisRunStore creates a RedisRunStore.
// prefix is optional but recommended (e.g. "flowtick:").
func NewRedisRunStore(client redis.UniversalClient, prefix string) *RedisRunStore {
	if prefix == "" {
		prefix = "flowtick:"
	}
	return &RedisRunStore{
		client:     client,
		prefix:     prefix,
		maxRetries: 16,
	}
}

func (s *RedisRunStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisRunStore) keyDue() string {
	return s.prefix + "due"
}

// Run documents reuse the JSON field names so Redis and SQL rows read alike.
func encodeRedisRun(run *api.Run) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(run); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisRun(data []byte) (*api.Run, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var run api.Run
	if err := dec.Decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RedisRunStore) indexDue(ctx context.Context, pipe redis.Pipeliner, run *api.Run) {
	if schedulable(run) {
		pipe.ZAdd(ctx, s.keyDue(), redis.Z{
			Score:  float64(run.NextRunnableAt.UnixMilli()),
			Member: run.ID,
		})
		return
	}
	pipe.ZRem(ctx, s.keyDue(), run.ID)
}

func (s *RedisRunStore) Create(ctx context.Context, run *api.Run) error {
	key := s.keyRun(run.ID)
	data, err := encodeRedisRun(run)
	if err != nil {
		return err
	}

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRunExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexDue(ctx, pipe, run)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return ErrRunExists
		}
		return err
	}, key)
}

func (s *RedisRunStore) Get(ctx context.Context, id string) (*api.Run, error) {
	return s.load(ctx, s.client, id)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisRunStore) load(ctx context.Context, c redisGetter, id string) (*api.Run, error) {
	data, err := c.Get(ctx, s.keyRun(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisRun(data)
}

func (s *RedisRunStore) FindDue(ctx context.Context, statuses []api.Status, before time.Time, limit int) ([]*api.Run, error) {
	page := int64(limit)
	if page < 32 {
		page = 32
	}
	maxScore := strconv.FormatInt(before.UnixMilli(), 10)

	var due []*api.Run
	for offset := int64(0); ; offset += page {
		ids, err := s.client.ZRangeByScore(ctx, s.keyDue(), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.keyRun(id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				// Deleted between ZRANGE and MGET.
				continue
			}
			run, err := decodeRedisRun([]byte(str))
			if err != nil {
				return nil, err
			}
			if run.NextRunnableAt == nil || run.NextRunnableAt.After(before) {
				continue
			}
			if !containsStatus(statuses, run.Status) {
				continue
			}
			due = append(due, run)
		}

		if limit > 0 && len(due) >= limit {
			break
		}
		if int64(len(ids)) < page {
			break
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextRunnableAt, due[j].NextRunnableAt
		if a.Equal(*b) {
			return due[i].ID < due[j].ID
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *RedisRunStore) ConditionalUpdate(ctx context.Context, id string, guard Guard, update RunUpdate) error {
	key := s.keyRun(id)

	apply := func(tx *redis.Tx) error {
		run, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !guard.Matches(run) {
			return ErrConflict
		}
		update.Apply(run)
		data, err := encodeRedisRun(run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexDue(ctx, pipe, run)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, apply, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}
