package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restro-sync/orders"
)

// NewRedisClient connects to addr and pings it. It returns nil when the
// server is unreachable so callers can fall back to a MemoryStore.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil
	}
	return client
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps records as JSON strings with a TTL of Expiry.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "restro"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(session string) string {
	return s.prefix + ":session:" + session + ":" + sessionKey
}

func (s *RedisStore) Save(ctx context.Context, session string, rec Record) error {
	rec.CreatedAt = s.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(session), data, Expiry).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, session string) (Record, error) {
	rec, err := s.get(ctx, s.rdb, session)
	if err != nil {
		return Record{}, err
	}
	if rec.Expired(s.now()) {
		s.rdb.Del(ctx, s.key(session))
		return Record{}, ErrExpired
	}
	return rec, nil
}

// UpdateItems rewrites the record under WATCH so a concurrent Save is not
// lost.
func (s *RedisStore) UpdateItems(ctx context.Context, session string, items []orders.Item) error {
	key := s.key(session)
	txf := func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, session)
		if err != nil {
			return err
		}
		if rec.Expired(s.now()) {
			return ErrNoOrder
		}
		rec.Items = append([]orders.Item(nil), items...)
		rec.CreatedAt = s.now()
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, Expiry)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update items: %w", redis.TxFailedErr)
}

func (s *RedisStore) Clear(ctx context.Context, session string) error {
	return s.rdb.Del(ctx, s.key(session)).Err()
}

func (s *RedisStore) get(ctx context.Context, c getter, session string) (Record, error) {
	data, err := c.Get(ctx, s.key(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNoOrder
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
