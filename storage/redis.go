package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type RedisStore struct {
	client *redis.Client
	prefix string

	once    sync.Once
	initErr error
}

func NewRedisStore(cfg types.RedisConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "roster:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
	}
}

func (r *RedisStore) Initialize(ctx context.Context) error {
	r.once.Do(func() {
		if err := r.client.Ping(ctx).Err(); err != nil {
			r.initErr = fmt.Errorf("%w: redis: %v", types.ErrStorageUnavailable, err)
		}
	})
	return r.initErr
}

func (r *RedisStore) recordKey(id int64) string {
	return r.prefix + "record:" + strconv.FormatInt(id, 10)
}

func (r *RedisStore) emailKey(email string) string {
	return r.prefix + "email:" + email
}

func (r *RedisStore) idsKey() string {
	return r.prefix + "ids"
}

func (r *RedisStore) Add(ctx context.Context, rec types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	recKey := r.recordKey(rec.ID)
	keys := []string{recKey}
	emailKey := ""
	if key := rec.EmailKey(); key != "" {
		emailKey = r.emailKey(key)
		keys = append(keys, emailKey)
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return types.ErrDuplicateKey
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, data, 0)
			pipe.ZAdd(ctx, r.idsKey(), redis.Z{Score: float64(rec.ID), Member: rec.ID})
			if emailKey != "" {
				pipe.Set(ctx, emailKey, rec.ID, 0)
			}
			return nil
		})
		return err
	}, keys...)
}

func (r *RedisStore) Update(ctx context.Context, rec types.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	recKey := r.recordKey(rec.ID)
	keys := []string{recKey}
	emailKey := ""
	if key := rec.EmailKey(); key != "" {
		emailKey = r.emailKey(key)
		keys = append(keys, emailKey)
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.get(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if emailKey != "" {
			owner, err := tx.Get(ctx, emailKey).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != rec.ID {
				return types.ErrDuplicateKey
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldKey := old.EmailKey(); oldKey != "" && r.emailKey(oldKey) != emailKey {
				pipe.Del(ctx, r.emailKey(oldKey))
			}
			pipe.Set(ctx, recKey, data, 0)
			if emailKey != "" {
				pipe.Set(ctx, emailKey, rec.ID, 0)
			}
			return nil
		})
		return err
	}, keys...)
}

func (r *RedisStore) Remove(ctx context.Context, id int64) error {
	recKey := r.recordKey(id)
	return r.watch(ctx, func(tx *redis.Tx) error {
		old, err := r.get(ctx, tx, id)
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			pipe.ZRem(ctx, r.idsKey(), id)
			if key := old.EmailKey(); key != "" {
				pipe.Del(ctx, r.emailKey(key))
			}
			return nil
		})
		return err
	}, recKey)
}

func (r *RedisStore) Get(ctx context.Context, id int64) (types.Record, error) {
	return r.get(ctx, r.client, id)
}

func (r *RedisStore) get(ctx context.Context, c getter, id int64) (types.Record, error) {
	data, err := c.Get(ctx, r.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Record{}, types.ErrNotFound
		}
		return types.Record{}, err
	}

	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

func (r *RedisStore) GetAll(ctx context.Context) ([]types.Record, error) {
	ids, err := r.client.ZRange(ctx, r.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []types.Record{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.prefix+"record:"+id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]types.Record, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// watch runs fn under optimistic locking on keys, retrying when another
// writer touched them between WATCH and EXEC.
func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

type RedisSessionStore struct {
	client *redis.Client
	key    string
}

func NewRedisSessionStore(cfg types.RedisConfig) *RedisSessionStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "roster:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisSessionStore{
		client: client,
		key:    cfg.Prefix + "session",
	}
}

func (r *RedisSessionStore) Load(ctx context.Context) (types.Session, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Session{}, false, nil
		}
		return types.Session{}, false, err
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return types.Session{}, false, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return session, true, nil
}

func (r *RedisSessionStore) Save(ctx context.Context, session types.Session) error {
	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt)
		if ttl <= 0 {
			return r.client.Del(ctx, r.key).Err()
		}
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}
	return r.client.Set(ctx, r.key, data, ttl).Err()
}

func (r *RedisSessionStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
