package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore implements Store on Redis. Reservation uses SETNX so the first writer wins across
// instances; Redis expiry removes records, which makes CleanupExpired a no-op.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix selects "idempotency:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + storageKey(key)
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	// A record can expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, s.key(key), payload, record.ExpiresAt.Sub(now)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, err := s.load(ctx, s.client, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		return classify(existing, fingerprint)
	}
	return Reservation{}, errors.New("idempotency: reservation contended")
}

// SaveResponse implements Store. The record keeps its original expiry.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	k := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, key)
		var expiry time.Duration = redis.KeepTTL
		switch {
		case errors.Is(err, redis.Nil):
			record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
			if ttl <= 0 {
				ttl = DefaultTTL
			}
			expiry = ttl
		case err != nil:
			return err
		case record.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}

		payload, err := json.Marshal(completeRecord(record, resp, now, ttl))
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, expiry)
			return nil
		})
		return err
	}, k)
}

// Release removes a pending reservation owned by fingerprint.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	k := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, key)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if record.Fingerprint != fingerprint || record.Status != StatusPending {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
}

// CleanupExpired implements Store; Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (Record, error) {
	data, err := c.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
